// Package servicetest provides test doubles for the service runtime:
// a scripted in-memory host and helpers to attach services to it.
package servicetest

import (
	"strings"
	"sync"
	"time"

	"github.com/weftlabs/weft/operation"
	"github.com/weftlabs/weft/service"
)

// Host is a scripted service.Host. Zero-value hooks fall back to
// permissive defaults; every interaction is recorded for assertions.
type Host struct {
	mu sync.Mutex

	// AuthorizeFunc rules operations; nil allows everything.
	AuthorizeFunc func(s service.Service, doc *service.Document, op *operation.Operation) bool

	// PrivilegedLinks classifies privileged services by self-link.
	PrivilegedLinks map[string]bool

	// StopClassifier flags DELETE-as-stop; nil checks the stop pragma.
	StopClassifier func(op *operation.Operation) bool

	// SendFunc handles outbound operations; nil serves document index
	// queries from IndexDocuments and fails everything else.
	SendFunc func(op *operation.Operation)

	// IndexDocuments backs the document index query path.
	IndexDocuments map[string]any

	// Signer and Verifier back the privileged token accessors.
	Signer   service.Signer
	Verifier service.Verifier

	// Recorded interactions.
	StoppedServices      []string
	ScheduledMaintenance []string
	SentOperations       []*operation.Operation
	PendingAvailable     []string
	PendingStart         []string
	PendingStartStages   []service.ProcessingStage

	CheckInterval time.Duration
	ClearDelay    time.Duration
	Public        string
}

// NewHost returns a permissive host suitable for most tests.
func NewHost() *Host {
	return &Host{
		PrivilegedLinks: make(map[string]bool),
		IndexDocuments:  make(map[string]any),
		CheckInterval:   time.Second,
		ClearDelay:      time.Minute,
		Public:          "http://localhost:0",
	}
}

const indexQueryPrefix = "/core/document-index?documentSelfLink="

func (h *Host) IsAuthorized(s service.Service, doc *service.Document, op *operation.Operation) bool {
	if h.AuthorizeFunc != nil {
		return h.AuthorizeFunc(s, doc, op)
	}
	return true
}

func (h *Host) IsPrivileged(s service.Service) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.PrivilegedLinks[s.SelfLink()]
}

func (h *Host) IsNamespaceRequest(s service.Service, op *operation.Operation) bool {
	if !s.HasOption(service.OptionURINamespaceOwner) {
		return false
	}
	return op.Path() != s.SelfLink() && strings.HasPrefix(op.Path(), s.SelfLink()+"/")
}

func (h *Host) IsStopRequest(op *operation.Operation) bool {
	if h.StopClassifier != nil {
		return h.StopClassifier(op)
	}
	return op.HasPragma(operation.PragmaStopService)
}

func (h *Host) StopService(s service.Service) {
	h.mu.Lock()
	h.StoppedServices = append(h.StoppedServices, s.SelfLink())
	h.mu.Unlock()
	s.SetProcessingStage(service.StageStopped)
}

func (h *Host) ScheduleServiceMaintenance(s service.Service) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ScheduledMaintenance = append(h.ScheduledMaintenance, s.SelfLink())
}

func (h *Host) ProcessPendingAvailableOperations(s service.Service) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PendingAvailable = append(h.PendingAvailable, s.SelfLink())
}

func (h *Host) ProcessPendingStartOperations(s service.Service, stage service.ProcessingStage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PendingStart = append(h.PendingStart, s.SelfLink())
	h.PendingStartStages = append(h.PendingStartStages, stage)
}

func (h *Host) SendRequest(op *operation.Operation) {
	h.mu.Lock()
	h.SentOperations = append(h.SentOperations, op)
	send := h.SendFunc
	h.mu.Unlock()

	if send != nil {
		send(op)
		return
	}
	if link, ok := strings.CutPrefix(op.Path(), indexQueryPrefix); ok {
		h.mu.Lock()
		doc, found := h.IndexDocuments[link]
		h.mu.Unlock()
		if !found {
			op.Fail(operation.NotFound(link))
			return
		}
		op.SetBody(doc).Complete()
		return
	}
	op.Fail(operation.NotFound(op.Path()))
}

func (h *Host) PublicURI() string { return h.Public }

func (h *Host) DocumentQueryPath(selfLink string) string {
	return indexQueryPrefix + selfLink
}

func (h *Host) MaintenanceCheckInterval() time.Duration { return h.CheckInterval }

func (h *Host) CacheClearDelay() time.Duration { return h.ClearDelay }

func (h *Host) SystemAuthorizationContext() *operation.AuthorizationContext {
	return operation.NewSystemAuthorizationContext()
}

func (h *Host) AuthorizationContextForSubject(subject string) *operation.AuthorizationContext {
	return operation.NewAuthorizationContext(subject, "")
}

func (h *Host) TokenSigner() service.Signer { return h.Signer }

func (h *Host) TokenVerifier() service.Verifier { return h.Verifier }

// Attach wires svc to the host under selfLink and marks it AVAILABLE,
// the steady state most tests want.
func (h *Host) Attach(selfLink string, svc service.Service) {
	svc.SetSelfLink(selfLink)
	svc.SetHost(h)
	svc.SetProcessingStage(service.StageAvailable)
}
