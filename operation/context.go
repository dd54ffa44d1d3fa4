package operation

import "time"

// AuthorizationContext identifies the principal an operation runs as.
// It is attached by the gateway (verified token) or, for privileged
// services, injected through the service's privileged accessors.
type AuthorizationContext struct {
	subject    string
	token      string
	systemUser bool
}

// NewAuthorizationContext builds a context for a verified subject
// carrying the raw token it was derived from.
func NewAuthorizationContext(subject, token string) *AuthorizationContext {
	return &AuthorizationContext{subject: subject, token: token}
}

// NewSystemAuthorizationContext builds the system user's context. Hosts
// hand it out only to privileged services.
func NewSystemAuthorizationContext() *AuthorizationContext {
	return &AuthorizationContext{subject: "@system", systemUser: true}
}

// Subject returns the authenticated principal.
func (c *AuthorizationContext) Subject() string { return c.subject }

// Token returns the raw token the context was derived from, if any.
func (c *AuthorizationContext) Token() string { return c.token }

// IsSystemUser reports whether this is the host's system context.
func (c *AuthorizationContext) IsSystemUser() bool { return c.systemUser }

// InstrumentationContext records handler timing for an operation.
// Callers that want per-operation duration stats attach one before
// sending; operations without it incur no instrumentation cost.
type InstrumentationContext struct {
	HandlerInvokeTime time.Time
}
