package service

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weftlabs/weft/filter"
	"github.com/weftlabs/weft/operation"
	"github.com/weftlabs/weft/pkg/logger"
	"github.com/weftlabs/weft/stats"
)

// StatNameAvailable backs SetAvailable/IsAvailable so callers can ask
// "is this service up" through the stat surface without knowing
// internals.
const StatNameAvailable = "isAvailable"

// MinMaintenanceInterval is the platform floor for periodic
// maintenance; shorter intervals are clamped with a warning.
const MinMaintenanceInterval = time.Millisecond

// Stateless is the minimal Service implementation. Core services that
// need no synchronization, queuing or durable state embed it and
// override the verb handlers they specialize.
//
// The zero value is not usable; construct with NewStateless and, when
// embedding, call Bind with the outer value so overridden handlers are
// dispatched:
//
//	type PingService struct {
//	    *service.Stateless
//	}
//
//	func NewPingService() *PingService {
//	    s := &PingService{Stateless: service.NewStateless(service.DefaultDocumentKind)}
//	    s.Bind(s)
//	    return s
//	}
type Stateless struct {
	mu                  sync.Mutex
	host                Host
	selfLink            string
	chain               *filter.Chain
	maintenanceInterval time.Duration
	cacheClearDelay     *time.Duration
	log                 *logger.Logger

	documentKind string
	opts         *OptionSet
	stage        atomic.Int32

	// outer is the embedding value whose handler overrides dispatch
	// takes precedence; nil means defaults only.
	outer Service

	utility atomic.Pointer[stats.Utility]
}

// NewStateless constructs the base with the given state document kind
// and capability options. The stateless option is always present. An
// empty document kind is a programming error.
func NewStateless(documentKind string, options ...Option) *Stateless {
	if documentKind == "" {
		panic("service: document kind is required")
	}
	options = append(options, OptionStateless)
	return &Stateless{
		documentKind: documentKind,
		opts:         NewOptionSet(options...),
		log:          logger.NewDefault("service"),
	}
}

// Bind registers the outer embedding value so its handler overrides
// are dispatched instead of the defaults.
func (s *Stateless) Bind(outer Service) {
	s.mu.Lock()
	s.outer = outer
	s.mu.Unlock()
}

// self returns the outermost Service value for dispatch and host
// callbacks.
func (s *Stateless) self() Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outer != nil {
		return s.outer
	}
	return s
}

// =============================================================================
// Identity and wiring
// =============================================================================

func (s *Stateless) SelfLink() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfLink
}

func (s *Stateless) SetSelfLink(path string) {
	s.mu.Lock()
	s.selfLink = path
	s.log = logger.NewDefault("service").With("self_link", path)
	s.mu.Unlock()
}

func (s *Stateless) Host() Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

func (s *Stateless) SetHost(h Host) {
	s.mu.Lock()
	s.host = h
	s.mu.Unlock()
}

// requireHost is used on paths where a detached service is a
// programming error rather than a runtime condition.
func (s *Stateless) requireHost() Host {
	h := s.Host()
	if h == nil {
		panic(fmt.Sprintf("service %s is not attached to a host", s.SelfLink()))
	}
	return h
}

func (s *Stateless) DocumentKind() string { return s.documentKind }

// Logger returns the service's structured logger.
func (s *Stateless) Logger() *logger.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// FilterChain returns the configured filter chain, or nil.
func (s *Stateless) FilterChain() *filter.Chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain
}

// SetFilterChain configures the cross-cutting filter chain run before
// the verb handler.
func (s *Stateless) SetFilterChain(chain *filter.Chain) {
	s.mu.Lock()
	s.chain = chain
	s.mu.Unlock()
}

// DocumentTemplate returns the self-describing document for this
// instance; OPTIONS responses without a body are synthesized from it.
func (s *Stateless) DocumentTemplate() *Document {
	return &Document{
		SelfLink: s.SelfLink(),
		Kind:     s.documentKind,
	}
}

// =============================================================================
// Capability set
// =============================================================================

func (s *Stateless) HasOption(o Option) bool { return s.opts.Has(o) }

func (s *Stateless) Options() []Option { return s.opts.List() }

// ToggleOption changes a togglable option. Enabling periodic
// maintenance on an AVAILABLE service schedules it with the host.
func (s *Stateless) ToggleOption(o Option, enable bool) error {
	changed, err := s.opts.Toggle(o, enable)
	if err != nil {
		return err
	}
	if enable && changed && o == OptionPeriodicMaintenance && s.ProcessingStage() == StageAvailable {
		s.requireHost().ScheduleServiceMaintenance(s.self())
	}
	return nil
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *Stateless) ProcessingStage() ProcessingStage {
	return ProcessingStage(s.stage.Load())
}

// SetProcessingStage advances the lifecycle. Setting the current stage
// again is a no-op. Entering AVAILABLE releases operations parked for
// availability and start; entering STOPPED fails operations parked for
// start. Concurrent transitions are the host's discipline: the stage
// has one authoritative owner.
func (s *Stateless) SetProcessingStage(stage ProcessingStage) {
	if ProcessingStage(s.stage.Load()) == stage {
		return
	}
	s.stage.Store(int32(stage))

	switch stage {
	case StageAvailable:
		h := s.requireHost()
		h.ProcessPendingAvailableOperations(s.self())
		h.ProcessPendingStartOperations(s.self(), StageAvailable)
	case StageStopped:
		if h := s.Host(); h != nil {
			h.ProcessPendingStartOperations(s.self(), StageStopped)
		}
	}
}

// HandleStart runs while the host moves the service toward AVAILABLE.
func (s *Stateless) HandleStart(op *operation.Operation) {
	op.Complete()
}

// QueueRequest always declines: capability implies direct dispatch;
// any queueing discipline for non-concurrent services belongs to the
// host, consuming the option set as its signal.
func (s *Stateless) QueueRequest(op *operation.Operation) bool {
	return false
}

// =============================================================================
// Outbound requests
// =============================================================================

// SendRequest decorates op with this service's referer and routes it
// through the host.
func (s *Stateless) SendRequest(op *operation.Operation) {
	h := s.requireHost()
	op.SetReferer(h.PublicURI() + s.SelfLink())
	h.SendRequest(op)
}

// =============================================================================
// Dispatch pipeline
// =============================================================================

// HandleRequest is the host's verb-dispatch entry point. The
// authorization gate runs first and cannot be reordered or bypassed by
// a concrete service.
func (s *Stateless) HandleRequest(op *operation.Operation) {
	h := s.requireHost()
	doc := &Document{SelfLink: s.SelfLink(), Kind: s.documentKind}
	if !h.IsAuthorized(s.self(), doc, op) {
		op.Fail(operation.Forbidden("forbidden: %s %s", op.Action(), op.Path()))
		return
	}
	s.HandleRequestPhase(op, PhaseProcessingFilters)
}

// HandleRequestPhase re-enters dispatch at the given phase. The filter
// chain resumes handler execution through it. Handler faults are
// caught here and converted into operation failures; they never cross
// the dispatch boundary.
func (s *Stateless) HandleRequestPhase(op *operation.Operation, phase DispatchPhase) {
	defer s.failOnPanic(op)

	if phase == PhaseProcessingFilters {
		if chain := s.FilterChain(); chain != nil {
			ctx := chain.NewContext(s.self())
			chain.ProcessRequest(op, ctx, func(o *operation.Operation) {
				s.HandleRequestPhase(o, PhaseExecutingHandler)
			})
			return
		}
		phase = PhaseExecutingHandler
	}

	if phase != PhaseExecutingHandler {
		return
	}

	if op.Path() == s.SelfLink()+ConfigSuffix {
		s.HandleConfigurationRequest(op)
		return
	}

	// An operation that arrives carrying an instrumentation context has
	// opted into duration stats; stamp handler entry here and record on
	// the way out.
	if s.HasOption(OptionInstrumentation) && op.InstrumentationContext() != nil {
		s.RecordHandlerInvokeTime(op)
		op.NestCompletion(func(o *operation.Operation, err error) {
			s.RecordHandlerDuration(o)
			if err != nil {
				o.Fail(err)
				return
			}
			o.Complete()
		})
	}

	// Runs last, right before the caller's callback: a not-modified
	// response carries no body, applied uniformly across verbs.
	op.NestCompletion(func(o *operation.Operation, err error) {
		if err != nil {
			o.Fail(err)
			return
		}
		if o.StatusCode() == operation.StatusNotModified {
			o.SetBody(nil)
		}
		o.Complete()
	})

	h := s.requireHost()
	switch op.Action() {
	case operation.ActionGet:
		if h.IsNamespaceRequest(s.self(), op) {
			s.invokeGet(op)
			return
		}
		op.NestCompletion(func(o *operation.Operation, err error) {
			if err != nil {
				o.Fail(err)
				return
			}
			s.handleGetCompletion(o)
		})
		s.invokeGet(op)

	case operation.ActionPost:
		s.invokePost(op)

	case operation.ActionDelete:
		if h.IsNamespaceRequest(s.self(), op) {
			// A namespace delete is regular business logic with no
			// lifecycle side effect.
			s.invokeDelete(op)
			return
		}
		if h.IsStopRequest(op) {
			op.NestCompletion(func(o *operation.Operation, err error) {
				if err != nil {
					o.Fail(err)
					return
				}
				s.handleStopCompletion(o)
			})
			s.invokeStop(op)
		} else {
			op.NestCompletion(func(o *operation.Operation, err error) {
				if err != nil {
					o.Fail(err)
					return
				}
				s.handleDeleteCompletion(o)
			})
			s.invokeDelete(op)
		}

	case operation.ActionOptions:
		if h.IsNamespaceRequest(s.self(), op) {
			s.invokeOptions(op)
			return
		}
		op.NestCompletion(func(o *operation.Operation, err error) {
			if err != nil {
				o.Fail(err)
				return
			}
			s.handleOptionsCompletion(o)
		})
		s.invokeOptions(op)

	case operation.ActionPatch:
		s.invokePatch(op)

	case operation.ActionPut:
		s.invokePut(op)
	}
}

func (s *Stateless) failOnPanic(op *operation.Operation) {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("handler panic: %v", r)
	}
	if op.Done() {
		s.Logger().Error("handler panicked after completing its operation", "error", err)
		return
	}
	op.Fail(err)
}

// =============================================================================
// Verb handler defaults and invocation
// =============================================================================

func (s *Stateless) invokeGet(op *operation.Operation) {
	if h, ok := s.self().(GetHandler); ok {
		h.HandleGet(op)
		return
	}
	s.HandleGet(op)
}

func (s *Stateless) invokePost(op *operation.Operation) {
	if h, ok := s.self().(PostHandler); ok {
		h.HandlePost(op)
		return
	}
	s.HandlePost(op)
}

func (s *Stateless) invokePut(op *operation.Operation) {
	if h, ok := s.self().(PutHandler); ok {
		h.HandlePut(op)
		return
	}
	s.HandlePut(op)
}

func (s *Stateless) invokePatch(op *operation.Operation) {
	if h, ok := s.self().(PatchHandler); ok {
		h.HandlePatch(op)
		return
	}
	s.HandlePatch(op)
}

func (s *Stateless) invokeDelete(op *operation.Operation) {
	if h, ok := s.self().(DeleteHandler); ok {
		h.HandleDelete(op)
		return
	}
	s.HandleDelete(op)
}

func (s *Stateless) invokeOptions(op *operation.Operation) {
	if h, ok := s.self().(OptionsHandler); ok {
		h.HandleOptions(op)
		return
	}
	s.HandleOptions(op)
}

func (s *Stateless) invokeStop(op *operation.Operation) {
	if h, ok := s.self().(StopHandler); ok {
		h.HandleStop(op)
		return
	}
	s.HandleStop(op)
}

// HandleGet completes with no changes; a stateless base has nothing to
// read.
func (s *Stateless) HandleGet(op *operation.Operation) {
	op.Complete()
}

// HandlePost fails as unsupported: the base has no canonical create
// semantics until specialized.
func (s *Stateless) HandlePost(op *operation.Operation) {
	operation.FailActionNotSupported(op)
}

// HandlePut fails as unsupported until specialized.
func (s *Stateless) HandlePut(op *operation.Operation) {
	operation.FailActionNotSupported(op)
}

// HandlePatch fails as unsupported until specialized.
func (s *Stateless) HandlePatch(op *operation.Operation) {
	operation.FailActionNotSupported(op)
}

// HandleDelete completes trivially.
func (s *Stateless) HandleDelete(op *operation.Operation) {
	op.Complete()
}

// HandleOptions clears the body; the nested completion then
// synthesizes the document template.
func (s *Stateless) HandleOptions(op *operation.Operation) {
	op.SetBody(nil)
	op.Complete()
}

// HandleStop completes trivially.
func (s *Stateless) HandleStop(op *operation.Operation) {
	op.Complete()
}

// handleGetCompletion post-processes a GET that targeted the service
// itself. Without durable state the handler result passes through.
// With durable state the in-memory result is discarded and a fresh
// index query becomes the response body, so GET always reflects the
// authoritative stored document.
func (s *Stateless) handleGetCompletion(op *operation.Operation) {
	if !s.HasOption(OptionPersistence) {
		op.Complete()
		return
	}
	h := s.requireHost()
	query := operation.NewGet(h.DocumentQueryPath(s.SelfLink()))
	query.SetCompletion(func(o *operation.Operation, err error) {
		if err != nil {
			op.Fail(err)
			return
		}
		op.SetBody(o.Body())
		op.Complete()
	})
	s.SendRequest(query)
}

// handleDeleteCompletion runs after a DELETE that is not a service
// stop. It guarantees the stop handler executes next and the shared
// stop completion runs after it, so a plain resource delete still
// terminates the service.
func (s *Stateless) handleDeleteCompletion(op *operation.Operation) {
	op.NestCompletion(func(o *operation.Operation, err error) {
		if err != nil {
			o.Fail(err)
			return
		}
		s.handleStopCompletion(o)
	})
	s.invokeStop(op)
}

// handleStopCompletion detaches the service from the host before the
// original caller observes success.
func (s *Stateless) handleStopCompletion(op *operation.Operation) {
	s.requireHost().StopService(s.self())
	op.Complete()
}

// handleOptionsCompletion synthesizes the self-describing document when
// the handler produced no body.
func (s *Stateless) handleOptionsCompletion(op *operation.Operation) {
	if !op.HasBody() {
		op.SetBody(s.self().DocumentTemplate())
	}
	op.Complete()
}

// =============================================================================
// Maintenance dispatch
// =============================================================================

// HandleMaintenance routes a background trigger to the matching
// override. Periodic is checked first and wins when several reasons
// co-occur. Overrides must treat the service's own state as external:
// reads via GET, writes via PATCH/PUT/DELETE through SendRequest, so
// maintenance mutations get the same ordering and authorization
// guarantees as client traffic.
func (s *Stateless) HandleMaintenance(op *operation.Operation) {
	defer s.failOnPanic(op)

	req, ok := op.Body().(*MaintenanceRequest)
	if !ok || req == nil {
		op.Fail(operation.NewServiceError(operation.StatusBadRequest, "maintenance request body required"))
		return
	}
	switch {
	case req.Reasons.Has(MaintenanceReasonPeriodic):
		s.invokePeriodicMaintenance(op)
	case req.Reasons.Has(MaintenanceReasonNodeGroupChanged):
		s.invokeNodeGroupMaintenance(op)
	default:
		op.Complete()
	}
}

func (s *Stateless) invokePeriodicMaintenance(op *operation.Operation) {
	if h, ok := s.self().(PeriodicMaintenanceHandler); ok {
		h.HandlePeriodicMaintenance(op)
		return
	}
	s.HandlePeriodicMaintenance(op)
}

func (s *Stateless) invokeNodeGroupMaintenance(op *operation.Operation) {
	if h, ok := s.self().(NodeGroupMaintenanceHandler); ok {
		h.HandleNodeGroupMaintenance(op)
		return
	}
	s.HandleNodeGroupMaintenance(op)
}

// HandlePeriodicMaintenance completes trivially until specialized.
func (s *Stateless) HandlePeriodicMaintenance(op *operation.Operation) {
	op.Complete()
}

// HandleNodeGroupMaintenance completes trivially until specialized.
func (s *Stateless) HandleNodeGroupMaintenance(op *operation.Operation) {
	op.Complete()
}

// MaintenanceInterval returns the configured periodic interval.
func (s *Stateless) MaintenanceInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintenanceInterval
}

// SetMaintenanceInterval configures the periodic interval, clamping to
// the platform minimum. Lowering the interval below the host's check
// interval while AVAILABLE reschedules maintenance immediately.
func (s *Stateless) SetMaintenanceInterval(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("maintenance interval must not be negative")
	}
	if d > 0 && d < MinMaintenanceInterval {
		s.Logger().Warn("maintenance interval below minimum, clamping",
			"requested", d, "minimum", MinMaintenanceInterval)
		d = MinMaintenanceInterval
	}
	s.mu.Lock()
	s.maintenanceInterval = d
	s.mu.Unlock()

	h := s.Host()
	if h != nil && s.ProcessingStage() == StageAvailable && d < h.MaintenanceCheckInterval() {
		h.ScheduleServiceMaintenance(s.self())
	}
	return nil
}

// CacheClearDelay returns the instance override or the host default.
func (s *Stateless) CacheClearDelay() time.Duration {
	s.mu.Lock()
	d := s.cacheClearDelay
	s.mu.Unlock()
	if d != nil {
		return *d
	}
	return s.requireHost().CacheClearDelay()
}

// SetCacheClearDelay overrides the host's cache-clear delay for this
// instance.
func (s *Stateless) SetCacheClearDelay(d time.Duration) {
	s.mu.Lock()
	s.cacheClearDelay = &d
	s.mu.Unlock()
}

// =============================================================================
// Instrumentation
// =============================================================================

// utilityComponent returns the lazily allocated shared sub-component.
// Concurrent first uses converge on a single instance via
// compare-and-swap.
func (s *Stateless) utilityComponent() *stats.Utility {
	if u := s.utility.Load(); u != nil {
		return u
	}
	u := stats.NewUtility()
	if s.utility.CompareAndSwap(nil, u) {
		return u
	}
	return s.utility.Load()
}

// Utility exposes the stats and subscription sub-component,
// allocating it on first use.
func (s *Stateless) Utility() *stats.Utility {
	return s.utilityComponent()
}

// SetStat records an absolute stat value. A no-op without the
// instrumentation option.
func (s *Stateless) SetStat(name string, value float64) {
	if !s.HasOption(OptionInstrumentation) {
		return
	}
	s.utilityComponent().Set(name, value)
}

// AdjustStat adds delta to a stat. A no-op without the instrumentation
// option.
func (s *Stateless) AdjustStat(name string, delta float64) {
	if !s.HasOption(OptionInstrumentation) {
		return
	}
	s.utilityComponent().Adjust(name, delta)
}

// GetStat returns a copy of the named stat. Always absent without the
// instrumentation option.
func (s *Stateless) GetStat(name string) (stats.Stat, bool) {
	if !s.HasOption(OptionInstrumentation) {
		return stats.Stat{}, false
	}
	return s.utilityComponent().Get(name)
}

// Publish fans op out to subscribers. Cheap no-op when the utility
// component was never allocated.
func (s *Stateless) Publish(op *operation.Operation) {
	if u := s.utility.Load(); u != nil {
		u.Notify(op)
	}
}

// SetAvailable drives the availability stat, enabling instrumentation
// on first use so the answer is observable.
func (s *Stateless) SetAvailable(available bool) {
	if err := s.ToggleOption(OptionInstrumentation, true); err != nil {
		panic(err)
	}
	v := 0.0
	if available {
		v = 1.0
	}
	s.SetStat(StatNameAvailable, v)
}

// IsAvailable answers through the availability stat. Without
// instrumentation the service is assumed available; with it the stage
// must be AVAILABLE and the stat must report up.
func (s *Stateless) IsAvailable() bool {
	if !s.HasOption(OptionInstrumentation) {
		return true
	}
	if s.ProcessingStage() != StageAvailable {
		return false
	}
	st, ok := s.GetStat(StatNameAvailable)
	return ok && st.LatestValue == 1.0
}

// RecordHandlerInvokeTime stamps the operation with the handler start
// time. Concrete handlers call it on entry when they want duration
// stats.
func (s *Stateless) RecordHandlerInvokeTime(op *operation.Operation) {
	if !s.HasOption(OptionInstrumentation) {
		return
	}
	op.SetInstrumentationContext(&operation.InstrumentationContext{HandlerInvokeTime: time.Now()})
}

// RecordHandlerDuration records the per-verb duration stat. A no-op
// unless instrumentation is on and the operation carries an
// instrumentation context.
func (s *Stateless) RecordHandlerDuration(op *operation.Operation) {
	if !s.HasOption(OptionInstrumentation) {
		return
	}
	ctx := op.InstrumentationContext()
	if ctx == nil {
		return
	}
	name := op.Action().String() + "DurationMicros"
	s.SetStat(name, float64(time.Since(ctx.HandlerInvokeTime).Microseconds()))
}

// =============================================================================
// Privileged capabilities
// =============================================================================

// SetAuthorizationContext injects a principal on an operation the
// service did not originate. Privileged services only; misuse is a
// programming error.
func (s *Stateless) SetAuthorizationContext(op *operation.Operation, ctx *operation.AuthorizationContext) {
	s.requirePrivileged("set authorization context")
	op.SetAuthorizationContext(ctx)
}

// TokenSigner returns the host's token signer. Privileged services
// only.
func (s *Stateless) TokenSigner() Signer {
	s.requirePrivileged("get token signer")
	return s.requireHost().TokenSigner()
}

// TokenVerifier returns the host's token verifier. Privileged services
// only.
func (s *Stateless) TokenVerifier() Verifier {
	s.requirePrivileged("get token verifier")
	return s.requireHost().TokenVerifier()
}

// SystemAuthorizationContext returns the system user's context.
// Privileged services only.
func (s *Stateless) SystemAuthorizationContext() *operation.AuthorizationContext {
	s.requirePrivileged("get system authorization context")
	return s.requireHost().SystemAuthorizationContext()
}

// AuthorizationContextForSubject returns the context for a given
// subject. Privileged services only.
func (s *Stateless) AuthorizationContextForSubject(subject string) *operation.AuthorizationContext {
	s.requirePrivileged("get authorization context for a subject")
	return s.requireHost().AuthorizationContextForSubject(subject)
}

func (s *Stateless) requirePrivileged(action string) {
	if !s.requireHost().IsPrivileged(s.self()) {
		panic(fmt.Sprintf("service %s is not allowed to %s", s.SelfLink(), action))
	}
}
