// Package host provides the in-process service host: the registry that
// attaches service instances to self-links, routes operations between
// them, drives the start/stop lifecycle and schedules periodic
// maintenance.
package host

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/weftlabs/weft/operation"
	"github.com/weftlabs/weft/pkg/logger"
	"github.com/weftlabs/weft/service"
	"github.com/weftlabs/weft/stats"
	"github.com/weftlabs/weft/token"
)

const (
	// DocumentIndexLink is where the host's document index service
	// listens.
	DocumentIndexLink = "/core/document-index"

	defaultMaintenanceCheckInterval = time.Second
	defaultCacheClearDelay          = time.Minute
)

// AuthorizePolicy evaluates whether op may reach the service described
// by doc. A nil policy authorizes everything.
type AuthorizePolicy func(s service.Service, doc *service.Document, op *operation.Operation) bool

// Config carries host construction parameters. The zero value is
// usable; empty fields fall back to defaults.
type Config struct {
	// PublicURI is the externally visible address prefix, used as the
	// referer base for outbound operations.
	PublicURI string

	// MaintenanceCheckInterval is the default periodic maintenance
	// cadence for services that do not set their own interval.
	MaintenanceCheckInterval time.Duration

	// CacheClearDelay is the host default a service inherits unless it
	// overrides its own.
	CacheClearDelay time.Duration

	// PrivilegedPrefixes lists self-link prefixes whose services may
	// use system authorization and token capabilities.
	PrivilegedPrefixes []string

	// TokenSecret enables the HMAC token authority. Without it the
	// host has no signer or verifier.
	TokenSecret []byte

	// Authorize is the policy consulted by the authorization gate.
	Authorize AuthorizePolicy
}

type registration struct {
	svc     service.Service
	parked  []*operation.Operation
	collset bool
	coll    *stats.Collector
}

// Host is the in-process registry and router.
type Host struct {
	cfg Config
	log *logger.Logger

	mu       sync.Mutex
	services map[string]*registration
	stopped  bool

	sched   *cron.Cron
	entries map[string]cron.EntryID

	registry  *prometheus.Registry
	authority *token.HMACAuthority
	systemCtx *operation.AuthorizationContext
}

// New constructs a host, registers its core services and starts the
// maintenance scheduler.
func New(cfg Config) (*Host, error) {
	if cfg.PublicURI == "" {
		cfg.PublicURI = "http://127.0.0.1:8000"
	}
	if cfg.MaintenanceCheckInterval <= 0 {
		cfg.MaintenanceCheckInterval = defaultMaintenanceCheckInterval
	}
	if cfg.CacheClearDelay <= 0 {
		cfg.CacheClearDelay = defaultCacheClearDelay
	}

	h := &Host{
		cfg:       cfg,
		log:       logger.NewDefault("host"),
		services:  make(map[string]*registration),
		sched:     cron.New(),
		entries:   make(map[string]cron.EntryID),
		registry:  prometheus.NewRegistry(),
		systemCtx: operation.NewSystemAuthorizationContext(),
	}
	if len(cfg.TokenSecret) > 0 {
		h.authority = token.NewHMACAuthority(cfg.TokenSecret)
	}
	h.sched.Start()

	if err := h.StartService(DocumentIndexLink, NewDocumentIndexService()); err != nil {
		h.sched.Stop()
		return nil, fmt.Errorf("starting document index: %w", err)
	}
	return h, nil
}

// Close stops the maintenance scheduler and every registered service.
func (h *Host) Close() {
	h.mu.Lock()
	h.stopped = true
	links := make([]string, 0, len(h.services))
	for link := range h.services {
		links = append(links, link)
	}
	h.mu.Unlock()

	for _, link := range links {
		if svc, ok := h.Service(link); ok {
			h.StopService(svc)
		}
	}
	h.sched.Stop()
}

// MetricsRegistry exposes the prometheus registry carrying per-service
// stat collectors.
func (h *Host) MetricsRegistry() *prometheus.Registry { return h.registry }

// Service returns the instance registered at selfLink.
func (h *Host) Service(selfLink string) (service.Service, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	reg, ok := h.services[selfLink]
	if !ok {
		return nil, false
	}
	return reg.svc, true
}

// ServiceLinks returns the self-links of all registered services.
func (h *Host) ServiceLinks() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	links := make([]string, 0, len(h.services))
	for link := range h.services {
		links = append(links, link)
	}
	return links
}

// =============================================================================
// Lifecycle
// =============================================================================

// StartService registers svc under selfLink and drives it through the
// start stages. The returned error covers registration problems; start
// handler failures surface asynchronously through the service ending up
// STOPPED.
func (h *Host) StartService(selfLink string, svc service.Service) error {
	if selfLink == "" || !strings.HasPrefix(selfLink, "/") {
		return fmt.Errorf("invalid self-link %q", selfLink)
	}
	if strings.Contains(selfLink, "?") {
		return fmt.Errorf("self-link %q must not carry a query", selfLink)
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return fmt.Errorf("host is stopped")
	}
	if _, exists := h.services[selfLink]; exists {
		h.mu.Unlock()
		return fmt.Errorf("service already registered at %s", selfLink)
	}
	h.services[selfLink] = &registration{svc: svc}
	h.mu.Unlock()

	svc.SetSelfLink(selfLink)
	svc.SetHost(h)
	svc.SetProcessingStage(service.StageInitializing)
	svc.SetProcessingStage(service.StageExecutingStartHandler)

	start := operation.NewPost(selfLink)
	start.SetReferer(h.PublicURI() + selfLink)
	start.SetCompletion(func(op *operation.Operation, err error) {
		if err != nil {
			h.log.Error("service failed to start", "self_link", selfLink, "error", err)
			h.StopService(svc)
			return
		}
		h.attachCollector(selfLink, svc)
		svc.SetProcessingStage(service.StageAvailable)
		if svc.HasOption(service.OptionPeriodicMaintenance) {
			h.ScheduleServiceMaintenance(svc)
		}
		h.log.Info("service started", "self_link", selfLink)
	})
	svc.HandleStart(start)
	return nil
}

// StopService removes the instance from the registry, cancels its
// maintenance schedule and detaches its metrics. Operations still
// parked waiting for the service are failed, never dropped.
func (h *Host) StopService(s service.Service) {
	selfLink := s.SelfLink()

	h.mu.Lock()
	reg, ok := h.services[selfLink]
	var parked []*operation.Operation
	if ok {
		parked = reg.parked
		reg.parked = nil
		delete(h.services, selfLink)
	}
	entry, scheduled := h.entries[selfLink]
	if scheduled {
		delete(h.entries, selfLink)
	}
	h.mu.Unlock()

	if scheduled {
		h.sched.Remove(entry)
	}
	if ok && reg.collset {
		h.registry.Unregister(reg.coll)
	}
	if s.ProcessingStage() != service.StageStopped {
		s.SetProcessingStage(service.StageStopped)
	}
	for _, op := range parked {
		op.Fail(operation.NewServiceError(operation.StatusUnavailable,
			"service %s stopped before the operation could run", selfLink))
	}
	h.log.Info("service stopped", "self_link", selfLink)
}

// attachCollector registers the service's stat store with the metrics
// registry when the service is instrumented.
func (h *Host) attachCollector(selfLink string, svc service.Service) {
	if !svc.HasOption(service.OptionInstrumentation) {
		return
	}
	up, ok := svc.(interface{ Utility() *stats.Utility })
	if !ok {
		return
	}
	coll := stats.NewCollector(up.Utility().Store, prometheus.Labels{"self_link": selfLink})
	if err := h.registry.Register(coll); err != nil {
		h.log.Warn("stat collector registration failed", "self_link", selfLink, "error", err)
		return
	}
	h.mu.Lock()
	if reg, found := h.services[selfLink]; found {
		reg.coll = coll
		reg.collset = true
	}
	h.mu.Unlock()
}

// =============================================================================
// Routing
// =============================================================================

// SendRequest routes op to the service owning its path. Operations for
// services still starting are parked and released on the stage
// transition; unknown paths fail with not found.
func (h *Host) SendRequest(op *operation.Operation) {
	path := op.Path()
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	h.mu.Lock()
	reg := h.lookupLocked(path)
	if reg == nil {
		h.mu.Unlock()
		op.Fail(operation.NotFound(op.Path()))
		return
	}
	svc := reg.svc
	stage := svc.ProcessingStage()
	if stage == service.StageStopped {
		h.mu.Unlock()
		op.Fail(operation.NewServiceError(operation.StatusUnavailable,
			"service %s is stopped", svc.SelfLink()))
		return
	}
	if stage != service.StageAvailable || svc.QueueRequest(op) {
		reg.parked = append(reg.parked, op)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	svc.HandleRequest(op)
}

// lookupLocked resolves a path to a registration: exact match first,
// then the configuration sub-path of a registered service, then the
// longest registered namespace owner whose namespace contains the
// path.
func (h *Host) lookupLocked(path string) *registration {
	if reg, ok := h.services[path]; ok {
		return reg
	}
	if owner, ok := strings.CutSuffix(path, service.ConfigSuffix); ok {
		if reg, found := h.services[owner]; found {
			return reg
		}
	}
	var best *registration
	bestLen := -1
	for link, reg := range h.services {
		if !reg.svc.HasOption(service.OptionURINamespaceOwner) {
			continue
		}
		if strings.HasPrefix(path, link+"/") && len(link) > bestLen {
			best = reg
			bestLen = len(link)
		}
	}
	return best
}

// ProcessPendingAvailableOperations re-dispatches operations parked
// while the service was not yet reachable.
func (h *Host) ProcessPendingAvailableOperations(s service.Service) {
	h.releaseParked(s, true)
}

// ProcessPendingStartOperations releases operations parked during
// start: re-dispatched when the service reached AVAILABLE, failed when
// it stopped instead.
func (h *Host) ProcessPendingStartOperations(s service.Service, stage service.ProcessingStage) {
	h.releaseParked(s, stage == service.StageAvailable)
}

func (h *Host) releaseParked(s service.Service, dispatch bool) {
	h.mu.Lock()
	reg, ok := h.services[s.SelfLink()]
	if !ok || len(reg.parked) == 0 {
		h.mu.Unlock()
		return
	}
	parked := reg.parked
	reg.parked = nil
	h.mu.Unlock()

	for _, op := range parked {
		if dispatch {
			s.HandleRequest(op)
		} else {
			op.Fail(operation.NewServiceError(operation.StatusUnavailable,
				"service %s stopped before the operation could run", s.SelfLink()))
		}
	}
}

// =============================================================================
// Classification
// =============================================================================

// IsAuthorized consults the configured policy. The system context
// bypasses policy; without a policy everything is authorized.
func (h *Host) IsAuthorized(s service.Service, doc *service.Document, op *operation.Operation) bool {
	if ctx := op.AuthorizationContext(); ctx != nil && ctx.IsSystemUser() {
		return true
	}
	if h.cfg.Authorize == nil {
		return true
	}
	return h.cfg.Authorize(s, doc, op)
}

// IsPrivileged classifies by configured self-link prefixes.
func (h *Host) IsPrivileged(s service.Service) bool {
	link := s.SelfLink()
	for _, prefix := range h.cfg.PrivilegedPrefixes {
		if strings.HasPrefix(link, prefix) {
			return true
		}
	}
	return false
}

// IsNamespaceRequest reports whether op targets a path strictly under
// a namespace-owning service.
func (h *Host) IsNamespaceRequest(s service.Service, op *operation.Operation) bool {
	if !s.HasOption(service.OptionURINamespaceOwner) {
		return false
	}
	path := op.Path()
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path != s.SelfLink() && strings.HasPrefix(path, s.SelfLink()+"/")
}

// IsStopRequest classifies a DELETE carrying the stop pragma.
func (h *Host) IsStopRequest(op *operation.Operation) bool {
	return op.HasPragma(operation.PragmaStopService)
}

// =============================================================================
// Maintenance
// =============================================================================

// ScheduleServiceMaintenance (re)schedules the periodic trigger for
// svc using its own interval, or the host check interval when unset.
func (h *Host) ScheduleServiceMaintenance(svc service.Service) {
	selfLink := svc.SelfLink()
	interval := svc.MaintenanceInterval()
	if interval <= 0 {
		interval = h.cfg.MaintenanceCheckInterval
	}

	h.mu.Lock()
	if old, ok := h.entries[selfLink]; ok {
		h.sched.Remove(old)
		delete(h.entries, selfLink)
	}
	h.mu.Unlock()

	id, err := h.sched.AddFunc("@every "+interval.String(), func() {
		h.runMaintenance(selfLink)
	})
	if err != nil {
		h.log.Error("maintenance scheduling failed", "self_link", selfLink, "error", err)
		return
	}
	h.mu.Lock()
	h.entries[selfLink] = id
	h.mu.Unlock()
}

func (h *Host) runMaintenance(selfLink string) {
	svc, ok := h.Service(selfLink)
	if !ok || svc.ProcessingStage() != service.StageAvailable {
		return
	}
	op := operation.NewPost(selfLink).
		SetReferer(h.PublicURI() + selfLink).
		SetBody(&service.MaintenanceRequest{Reasons: service.MaintenanceReasonPeriodic})
	op.SetCompletion(func(o *operation.Operation, err error) {
		if err != nil {
			h.log.Warn("periodic maintenance failed", "self_link", selfLink, "error", err)
		}
	})
	svc.HandleMaintenance(op)
}

// NotifyNodeGroupChanged delivers a node-group-changed maintenance
// trigger to every available service.
func (h *Host) NotifyNodeGroupChanged() {
	for _, link := range h.ServiceLinks() {
		svc, ok := h.Service(link)
		if !ok || svc.ProcessingStage() != service.StageAvailable {
			continue
		}
		op := operation.NewPost(link).
			SetReferer(h.PublicURI() + link).
			SetBody(&service.MaintenanceRequest{Reasons: service.MaintenanceReasonNodeGroupChanged})
		op.SetCompletion(func(o *operation.Operation, err error) {
			if err != nil {
				h.log.Warn("node group maintenance failed", "self_link", link, "error", err)
			}
		})
		svc.HandleMaintenance(op)
	}
}

// =============================================================================
// Host surface consumed by services
// =============================================================================

func (h *Host) PublicURI() string { return h.cfg.PublicURI }

// DocumentQueryPath builds the index query returning the stored
// document for selfLink.
func (h *Host) DocumentQueryPath(selfLink string) string {
	return DocumentIndexLink + "?documentSelfLink=" + url.QueryEscape(selfLink)
}

func (h *Host) MaintenanceCheckInterval() time.Duration { return h.cfg.MaintenanceCheckInterval }

func (h *Host) CacheClearDelay() time.Duration { return h.cfg.CacheClearDelay }

// SystemAuthorizationContext returns the host's system principal.
func (h *Host) SystemAuthorizationContext() *operation.AuthorizationContext {
	return h.systemCtx
}

// AuthorizationContextForSubject builds a context for subject, minting
// a token when the host has a token authority.
func (h *Host) AuthorizationContextForSubject(subject string) *operation.AuthorizationContext {
	tok := ""
	if h.authority != nil {
		signed, err := h.authority.Sign(subject, time.Hour)
		if err != nil {
			h.log.Warn("token signing failed", "subject", subject, "error", err)
		} else {
			tok = signed
		}
	}
	return operation.NewAuthorizationContext(subject, tok)
}

// TokenSigner returns the host token authority, or nil when no secret
// was configured.
func (h *Host) TokenSigner() service.Signer {
	if h.authority == nil {
		return nil
	}
	return h.authority
}

// TokenVerifier returns the host token authority, or nil when no
// secret was configured.
func (h *Host) TokenVerifier() service.Verifier {
	if h.authority == nil {
		return nil
	}
	return h.authority
}
