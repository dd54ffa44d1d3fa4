package service

// DefaultDocumentKind is the kind assigned to services that do not
// declare their own state document type.
const DefaultDocumentKind = "weft:Document"

// Document is the self-describing state envelope of a service. A
// stateless service has no durable state; its document carries only
// identity, which is also all the authorization gate evaluates policy
// against.
type Document struct {
	SelfLink         string `json:"documentSelfLink,omitempty"`
	Kind             string `json:"documentKind,omitempty"`
	Version          int64  `json:"documentVersion,omitempty"`
	UpdateTimeMicros int64  `json:"documentUpdateTimeMicros,omitempty"`
}
