// Package service implements the runtime base every addressable unit
// in the fabric specializes: the verb dispatch pipeline, the
// processing-stage lifecycle, the authorization gate, maintenance
// dispatch and instrumentation hooks. Concrete services embed
// Stateless and override the verb handlers they care about.
package service

import (
	"time"

	"github.com/weftlabs/weft/operation"
	"github.com/weftlabs/weft/stats"
)

// Service is the contract between a service instance and its host.
type Service interface {
	SelfLink() string
	SetSelfLink(path string)
	Host() Host
	SetHost(h Host)
	DocumentKind() string

	ProcessingStage() ProcessingStage
	SetProcessingStage(stage ProcessingStage)

	HasOption(o Option) bool
	ToggleOption(o Option, enable bool) error
	Options() []Option

	// HandleRequest runs the full pipeline: authorization gate, filter
	// chain, verb handler. HandleRequestPhase re-enters at a specific
	// phase; hosts and filter chains use it to resume dispatch.
	HandleRequest(op *operation.Operation)
	HandleRequestPhase(op *operation.Operation, phase DispatchPhase)

	// HandleStart is invoked by the host with the start operation while
	// the service transitions toward AVAILABLE.
	HandleStart(op *operation.Operation)

	// HandleMaintenance receives background triggers; the operation
	// body is a *MaintenanceRequest.
	HandleMaintenance(op *operation.Operation)

	// QueueRequest reports whether the host must park the operation
	// instead of dispatching it. This base never asks to be queued.
	QueueRequest(op *operation.Operation) bool

	SendRequest(op *operation.Operation)

	DocumentTemplate() *Document

	MaintenanceInterval() time.Duration
	SetMaintenanceInterval(d time.Duration) error

	SetStat(name string, value float64)
	AdjustStat(name string, delta float64)
	GetStat(name string) (stats.Stat, bool)
	IsAvailable() bool
}

// Host is the registry collaborator a service instance consumes. The
// base never reaches into host internals; everything it needs is on
// this interface.
type Host interface {
	// IsAuthorized evaluates policy for op against a context document
	// carrying the service's identity.
	IsAuthorized(s Service, doc *Document, op *operation.Operation) bool

	// IsPrivileged classifies whether the instance may use system-level
	// authorization and signing capabilities.
	IsPrivileged(s Service) bool

	// IsNamespaceRequest classifies whether op targets a path under the
	// service's namespace rather than the service itself.
	IsNamespaceRequest(s Service, op *operation.Operation) bool

	// IsStopRequest classifies whether a DELETE is a service stop.
	IsStopRequest(op *operation.Operation) bool

	// StopService detaches the instance so it is no longer reachable.
	StopService(s Service)

	// ScheduleServiceMaintenance (re)schedules periodic maintenance
	// triggers for the instance.
	ScheduleServiceMaintenance(s Service)

	// ProcessPendingAvailableOperations releases operations parked
	// waiting for the service to become reachable.
	ProcessPendingAvailableOperations(s Service)

	// ProcessPendingStartOperations releases operations parked waiting
	// for the service to start: re-dispatched on AVAILABLE, failed on
	// STOPPED.
	ProcessPendingStartOperations(s Service, stage ProcessingStage)

	// SendRequest routes an outbound operation by its target path.
	SendRequest(op *operation.Operation)

	// PublicURI is the externally visible address prefix of the host.
	PublicURI() string

	// DocumentQueryPath builds the index query path that returns the
	// authoritative stored document for a self-link.
	DocumentQueryPath(selfLink string) string

	MaintenanceCheckInterval() time.Duration
	CacheClearDelay() time.Duration

	// Privileged capabilities. Hosts must only answer these for
	// services they classify as privileged; the base enforces the
	// check before calling.
	SystemAuthorizationContext() *operation.AuthorizationContext
	AuthorizationContextForSubject(subject string) *operation.AuthorizationContext
	TokenSigner() Signer
	TokenVerifier() Verifier
}

// Signer issues signed authorization tokens. Available to privileged
// services only.
type Signer interface {
	Sign(subject string, ttl time.Duration) (string, error)
}

// Verifier validates tokens and returns the authenticated subject.
type Verifier interface {
	Verify(token string) (subject string, err error)
}

// Verb handler override points. A concrete service embeds *Stateless
// and redeclares the handlers it specializes; the defaults complete
// trivially (GET, DELETE, OPTIONS, stop, maintenance) or fail as
// unsupported (POST, PUT, PATCH).
type (
	GetHandler interface {
		HandleGet(op *operation.Operation)
	}
	PostHandler interface {
		HandlePost(op *operation.Operation)
	}
	PutHandler interface {
		HandlePut(op *operation.Operation)
	}
	PatchHandler interface {
		HandlePatch(op *operation.Operation)
	}
	DeleteHandler interface {
		HandleDelete(op *operation.Operation)
	}
	OptionsHandler interface {
		HandleOptions(op *operation.Operation)
	}
	StopHandler interface {
		HandleStop(op *operation.Operation)
	}
	StartHandler interface {
		HandleStart(op *operation.Operation)
	}
	PeriodicMaintenanceHandler interface {
		HandlePeriodicMaintenance(op *operation.Operation)
	}
	NodeGroupMaintenanceHandler interface {
		HandleNodeGroupMaintenance(op *operation.Operation)
	}
)
