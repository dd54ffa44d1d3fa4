package service_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/filter"
	"github.com/weftlabs/weft/operation"
	"github.com/weftlabs/weft/pkg/servicetest"
	"github.com/weftlabs/weft/service"
)

// testService records handler invocations and lets individual tests
// swap in handler behavior.
type testService struct {
	*service.Stateless

	mu    sync.Mutex
	calls []string

	onGet       func(op *operation.Operation)
	onPost      func(op *operation.Operation)
	onDelete    func(op *operation.Operation)
	onStop      func(op *operation.Operation)
	onOpts      func(op *operation.Operation)
	onPeriodic  func(op *operation.Operation)
	onNodeGroup func(op *operation.Operation)
}

func newTestService(opts ...service.Option) *testService {
	s := &testService{Stateless: service.NewStateless(service.DefaultDocumentKind, opts...)}
	s.Bind(s)
	return s
}

func (s *testService) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *testService) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *testService) HandleGet(op *operation.Operation) {
	s.record("get")
	if s.onGet != nil {
		s.onGet(op)
		return
	}
	s.Stateless.HandleGet(op)
}

func (s *testService) HandlePost(op *operation.Operation) {
	s.record("post")
	if s.onPost != nil {
		s.onPost(op)
		return
	}
	s.Stateless.HandlePost(op)
}

func (s *testService) HandleDelete(op *operation.Operation) {
	s.record("delete")
	if s.onDelete != nil {
		s.onDelete(op)
		return
	}
	s.Stateless.HandleDelete(op)
}

func (s *testService) HandleStop(op *operation.Operation) {
	s.record("stop")
	if s.onStop != nil {
		s.onStop(op)
		return
	}
	s.Stateless.HandleStop(op)
}

func (s *testService) HandleOptions(op *operation.Operation) {
	s.record("options")
	if s.onOpts != nil {
		s.onOpts(op)
		return
	}
	s.Stateless.HandleOptions(op)
}

func (s *testService) HandlePeriodicMaintenance(op *operation.Operation) {
	s.record("periodic")
	if s.onPeriodic != nil {
		s.onPeriodic(op)
		return
	}
	s.Stateless.HandlePeriodicMaintenance(op)
}

func (s *testService) HandleNodeGroupMaintenance(op *operation.Operation) {
	s.record("nodegroup")
	if s.onNodeGroup != nil {
		s.onNodeGroup(op)
		return
	}
	s.Stateless.HandleNodeGroupMaintenance(op)
}

func attach(t *testing.T, svc service.Service, selfLink string) *servicetest.Host {
	t.Helper()
	h := servicetest.NewHost()
	h.Attach(selfLink, svc)
	return h
}

// =============================================================================
// Dispatch scenarios
// =============================================================================

func TestNamespaceGetCompletesUnmodified(t *testing.T) {
	svc := newTestService(service.OptionURINamespaceOwner)
	attach(t, svc, "/x")

	var final error
	op := operation.NewGet("/x/resource").SetBody("payload")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	assert.NoError(t, final)
	assert.Equal(t, operation.StatusOK, op.StatusCode())
	assert.Equal(t, "payload", op.Body())
	assert.Equal(t, []string{"get"}, svc.Calls())
}

func TestGetWithoutPersistencePassesThrough(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")

	svc.onGet = func(op *operation.Operation) {
		op.SetBody("in-memory").Complete()
	}

	var final error
	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	assert.NoError(t, final)
	assert.Equal(t, "in-memory", op.Body())
	assert.Empty(t, host.SentOperations, "non-durable GET must not hit the index")
}

func TestGetWithPersistenceSupersededByIndexQuery(t *testing.T) {
	svc := newTestService(service.OptionPersistence)
	host := attach(t, svc, "/x")
	host.IndexDocuments["/x"] = &service.Document{SelfLink: "/x", Version: 7}

	svc.onGet = func(op *operation.Operation) {
		op.SetBody("stale snapshot").Complete()
	}

	var final error
	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.NoError(t, final)
	doc, ok := op.Body().(*service.Document)
	require.True(t, ok, "caller must observe the stored document, got %T", op.Body())
	assert.Equal(t, int64(7), doc.Version)
	require.Len(t, host.SentOperations, 1)
	assert.Contains(t, host.SentOperations[0].Referer(), "/x")
}

func TestGetWithPersistenceIndexFailurePropagates(t *testing.T) {
	svc := newTestService(service.OptionPersistence)
	attach(t, svc, "/x") // no index document registered

	var final error
	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.Error(t, final)
	var se *operation.ServiceError
	require.ErrorAs(t, final, &se)
	assert.Equal(t, operation.StatusNotFound, se.StatusCode)
}

func TestPostPutPatchUnsupportedByDefault(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   *operation.Operation
	}{
		{"post", operation.NewPost("/x")},
		{"put", operation.NewPut("/x")},
		{"patch", operation.NewPatch("/x")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService()
			attach(t, svc, "/x")

			var final error
			tc.op.SetCompletion(func(o *operation.Operation, err error) { final = err })
			svc.HandleRequest(tc.op)

			require.Error(t, final)
			assert.Equal(t, operation.StatusBadMethod, tc.op.StatusCode())
		})
	}
}

func TestDeleteAsStopDeregistersBeforeCallerObservesSuccess(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")

	var stageAtCallback service.ProcessingStage
	var stoppedAtCallback int
	var final error

	op := operation.NewDelete("/x").AddPragma(operation.PragmaStopService)
	op.SetCompletion(func(o *operation.Operation, err error) {
		final = err
		stageAtCallback = svc.ProcessingStage()
		stoppedAtCallback = len(host.StoppedServices)
	})
	svc.HandleRequest(op)

	require.NoError(t, final)
	assert.Equal(t, []string{"stop"}, svc.Calls(), "stop request must not run the delete handler")
	assert.Equal(t, service.StageStopped, stageAtCallback)
	assert.Equal(t, 1, stoppedAtCallback, "deregistration must precede the caller callback")
}

func TestPlainDeleteRunsDeleteThenStopThenDeregisters(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")

	var final error
	op := operation.NewDelete("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.NoError(t, final)
	assert.Equal(t, []string{"delete", "stop"}, svc.Calls())
	assert.Equal(t, []string{"/x"}, host.StoppedServices)
	assert.Equal(t, service.StageStopped, svc.ProcessingStage())
}

func TestNamespaceDeleteHasNoLifecycleSideEffect(t *testing.T) {
	svc := newTestService(service.OptionURINamespaceOwner)
	host := attach(t, svc, "/x")

	var final error
	op := operation.NewDelete("/x/resource")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.NoError(t, final)
	assert.Equal(t, []string{"delete"}, svc.Calls())
	assert.Empty(t, host.StoppedServices)
	assert.Equal(t, service.StageAvailable, svc.ProcessingStage())
}

func TestDeleteHandlerFailureSkipsStop(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")
	svc.onDelete = func(op *operation.Operation) {
		op.Fail(errors.New("refused"))
	}

	var final error
	op := operation.NewDelete("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.Error(t, final)
	assert.Equal(t, []string{"delete"}, svc.Calls())
	assert.Empty(t, host.StoppedServices)
}

func TestOptionsSynthesizesDocumentTemplate(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	var final error
	op := operation.NewOptions("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.NoError(t, final)
	doc, ok := op.Body().(*service.Document)
	require.True(t, ok)
	assert.Equal(t, "/x", doc.SelfLink)
	assert.Equal(t, service.DefaultDocumentKind, doc.Kind)
}

func TestOptionsWithHandlerBodyKeepsIt(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")
	svc.onOpts = func(op *operation.Operation) {
		op.SetBody("custom").Complete()
	}

	op := operation.NewOptions("/x")
	op.SetCompletion(func(o *operation.Operation, err error) {})
	svc.HandleRequest(op)

	assert.Equal(t, "custom", op.Body())
}

func TestNotModifiedBodyClearedForAllVerbs(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")
	svc.onGet = func(op *operation.Operation) {
		op.SetStatusCode(operation.StatusNotModified).SetBody("should vanish").Complete()
	}

	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) {})
	svc.HandleRequest(op)

	assert.Nil(t, op.Body())
	assert.Equal(t, operation.StatusNotModified, op.StatusCode())
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")
	svc.onGet = func(op *operation.Operation) {
		panic("handler bug")
	}

	var final error
	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.Error(t, final)
	assert.Contains(t, final.Error(), "handler bug")
	assert.Equal(t, operation.StatusInternalError, op.StatusCode())
}

// =============================================================================
// Authorization gate
// =============================================================================

func TestAuthorizationGateRunsBeforeHandler(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")
	host.AuthorizeFunc = func(s service.Service, doc *service.Document, op *operation.Operation) bool {
		assert.Equal(t, "/x", doc.SelfLink, "policy context carries only the self-link")
		return false
	}

	var final error
	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.Error(t, final)
	assert.Equal(t, operation.StatusForbidden, op.StatusCode())
	assert.Empty(t, svc.Calls(), "handler must not run for a forbidden operation")
}

func TestAuthorizationGateRunsBeforeFilters(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")
	host.AuthorizeFunc = func(s service.Service, doc *service.Document, op *operation.Operation) bool {
		return false
	}

	filterRan := false
	svc.SetFilterChain(filter.NewChain(filter.Func(func(op *operation.Operation, ctx *filter.Context) filter.Decision {
		filterRan = true
		return filter.Continue
	})))

	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) {})
	svc.HandleRequest(op)

	assert.False(t, filterRan)
}

// =============================================================================
// Filter chain
// =============================================================================

func TestFilterChainRunsBeforeHandler(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	var order []string
	svc.SetFilterChain(filter.NewChain(filter.Func(func(op *operation.Operation, ctx *filter.Context) filter.Decision {
		order = append(order, "filter")
		assert.Equal(t, "/x", ctx.Target().SelfLink())
		return filter.Continue
	})))
	svc.onGet = func(op *operation.Operation) {
		order = append(order, "handler")
		op.Complete()
	}

	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) {})
	svc.HandleRequest(op)

	assert.Equal(t, []string{"filter", "handler"}, order)
}

func TestFilterStopShortCircuitsHandler(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")
	svc.SetFilterChain(filter.NewChain(filter.Func(func(op *operation.Operation, ctx *filter.Context) filter.Decision {
		op.Fail(operation.Forbidden("filtered"))
		return filter.Stop
	})))

	var final error
	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.Error(t, final)
	assert.Empty(t, svc.Calls())
}

// =============================================================================
// Maintenance dispatch
// =============================================================================

func TestMaintenancePeriodicWinsOverNodeGroup(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	op := operation.NewPost("/x").SetBody(&service.MaintenanceRequest{
		Reasons: service.MaintenanceReasonPeriodic | service.MaintenanceReasonNodeGroupChanged,
	})
	op.SetCompletion(func(o *operation.Operation, err error) {})
	svc.HandleMaintenance(op)

	assert.Equal(t, []string{"periodic"}, svc.Calls())
}

func TestMaintenanceNodeGroupOnly(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	op := operation.NewPost("/x").SetBody(&service.MaintenanceRequest{
		Reasons: service.MaintenanceReasonNodeGroupChanged,
	})
	op.SetCompletion(func(o *operation.Operation, err error) {})
	svc.HandleMaintenance(op)

	assert.Equal(t, []string{"nodegroup"}, svc.Calls())
}

func TestMaintenanceNoRecognizedReasonCompletes(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	var final error
	op := operation.NewPost("/x").SetBody(&service.MaintenanceRequest{})
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleMaintenance(op)

	assert.NoError(t, final)
	assert.Empty(t, svc.Calls())
}

func TestMaintenanceWithoutBodyFails(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	var final error
	op := operation.NewPost("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleMaintenance(op)

	require.Error(t, final)
	assert.Equal(t, operation.StatusBadRequest, op.StatusCode())
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestSetProcessingStageIsIdempotent(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x") // Attach already moved it to AVAILABLE

	before := len(host.PendingAvailable)
	svc.SetProcessingStage(service.StageAvailable)
	assert.Equal(t, before, len(host.PendingAvailable), "re-setting the same stage must be a no-op")
}

func TestStageTransitionSideEffects(t *testing.T) {
	svc := newTestService()
	host := servicetest.NewHost()
	svc.SetSelfLink("/x")
	svc.SetHost(host)

	svc.SetProcessingStage(service.StageInitializing)
	assert.Empty(t, host.PendingAvailable)
	assert.Empty(t, host.PendingStart)

	svc.SetProcessingStage(service.StageAvailable)
	assert.Equal(t, []string{"/x"}, host.PendingAvailable)
	require.Len(t, host.PendingStartStages, 1)
	assert.Equal(t, service.StageAvailable, host.PendingStartStages[0])

	svc.SetProcessingStage(service.StageStopped)
	require.Len(t, host.PendingStartStages, 2)
	assert.Equal(t, service.StageStopped, host.PendingStartStages[1])
}

func TestQueueRequestAlwaysDeclines(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")
	assert.False(t, svc.QueueRequest(operation.NewGet("/x")))
}

// =============================================================================
// Capability set
// =============================================================================

func TestForbiddenTogglesFailBothDirections(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	for _, opt := range []service.Option{
		service.OptionReplication,
		service.OptionOwnerSelection,
		service.OptionIdempotentPost,
	} {
		assert.Error(t, svc.ToggleOption(opt, true), "%s enable", opt)
		assert.Error(t, svc.ToggleOption(opt, false), "%s disable", opt)
		assert.False(t, svc.HasOption(opt))
	}
}

func TestTogglePeriodicMaintenanceSchedulesWhenAvailable(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")

	require.NoError(t, svc.ToggleOption(service.OptionPeriodicMaintenance, true))
	assert.Equal(t, []string{"/x"}, host.ScheduledMaintenance)

	// Toggling again does not change the set and must not reschedule.
	require.NoError(t, svc.ToggleOption(service.OptionPeriodicMaintenance, true))
	assert.Len(t, host.ScheduledMaintenance, 1)
}

// =============================================================================
// Instrumentation
// =============================================================================

func TestStatsAreNoOpsWithoutInstrumentation(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	svc.SetStat("custom", 42)
	svc.AdjustStat("custom", 1)
	_, ok := svc.GetStat("custom")
	assert.False(t, ok)
}

func TestStatsRecordedWithInstrumentation(t *testing.T) {
	svc := newTestService(service.OptionInstrumentation)
	attach(t, svc, "/x")

	svc.SetStat("custom", 42)
	svc.AdjustStat("custom", 8)
	st, ok := svc.GetStat("custom")
	require.True(t, ok)
	assert.Equal(t, 50.0, st.LatestValue)
}

func TestConcurrentFirstStatUseConvergesOnOneComponent(t *testing.T) {
	svc := newTestService(service.OptionInstrumentation)
	attach(t, svc, "/x")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				svc.AdjustStat("hits", 1)
			}
		}()
	}
	wg.Wait()

	st, ok := svc.GetStat("hits")
	require.True(t, ok)
	assert.Equal(t, 1600.0, st.LatestValue)
}

func TestSetAvailableAndIsAvailable(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	// Without instrumentation availability is assumed.
	assert.True(t, svc.IsAvailable())

	svc.SetAvailable(false)
	assert.False(t, svc.IsAvailable())

	svc.SetAvailable(true)
	assert.True(t, svc.IsAvailable())

	svc.SetProcessingStage(service.StageStopped)
	assert.False(t, svc.IsAvailable(), "stage must also indicate availability")
}

func TestHandlerDurationStatRequiresContext(t *testing.T) {
	svc := newTestService(service.OptionInstrumentation)
	attach(t, svc, "/x")

	op := operation.NewGet("/x")
	svc.RecordHandlerDuration(op)
	_, ok := svc.GetStat("GETDurationMicros")
	assert.False(t, ok, "no duration stat without an instrumentation context")

	svc.RecordHandlerInvokeTime(op)
	svc.RecordHandlerDuration(op)
	_, ok = svc.GetStat("GETDurationMicros")
	assert.True(t, ok)
}

func TestDispatchRecordsHandlerDuration(t *testing.T) {
	svc := newTestService(service.OptionInstrumentation)
	attach(t, svc, "/x")

	svc.onGet = func(op *operation.Operation) { op.SetBody("ok").Complete() }

	var final error
	op := operation.NewGet("/x").
		SetInstrumentationContext(&operation.InstrumentationContext{})
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.NoError(t, final)
	st, ok := svc.GetStat("GETDurationMicros")
	require.True(t, ok, "dispatch must record the duration stat")
	assert.GreaterOrEqual(t, st.LatestValue, 0.0)
}

func TestDispatchWithoutContextRecordsNoDuration(t *testing.T) {
	svc := newTestService(service.OptionInstrumentation)
	attach(t, svc, "/x")

	svc.onGet = func(op *operation.Operation) { op.Complete() }

	var final error
	op := operation.NewGet("/x")
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.NoError(t, final)
	_, ok := svc.GetStat("GETDurationMicros")
	assert.False(t, ok, "duration stats are opt-in per operation")
}

func TestPublishNotifiesSubscribers(t *testing.T) {
	svc := newTestService(service.OptionInstrumentation)
	attach(t, svc, "/x")

	// Publish before allocation is a silent no-op.
	svc.Publish(operation.NewPatch("/x"))

	var seen []string
	svc.Utility().Subscribe(func(op *operation.Operation) {
		seen = append(seen, op.Path())
	})
	svc.Publish(operation.NewPatch("/x"))
	assert.Equal(t, []string{"/x"}, seen)
}

// =============================================================================
// Privileged capabilities
// =============================================================================

func TestPrivilegedAccessorsPanicWhenNotPrivileged(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	assert.Panics(t, func() { svc.TokenSigner() })
	assert.Panics(t, func() { svc.TokenVerifier() })
	assert.Panics(t, func() { svc.SystemAuthorizationContext() })
	assert.Panics(t, func() { svc.AuthorizationContextForSubject("alice") })
	assert.Panics(t, func() {
		svc.SetAuthorizationContext(operation.NewGet("/y"), operation.NewSystemAuthorizationContext())
	})
}

func TestPrivilegedAccessorsWorkWhenPrivileged(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")
	host.PrivilegedLinks["/x"] = true

	ctx := svc.SystemAuthorizationContext()
	require.NotNil(t, ctx)
	assert.True(t, ctx.IsSystemUser())

	subject := svc.AuthorizationContextForSubject("alice")
	require.NotNil(t, subject)
	assert.Equal(t, "alice", subject.Subject())

	op := operation.NewGet("/y")
	svc.SetAuthorizationContext(op, ctx)
	assert.Equal(t, ctx, op.AuthorizationContext())
}

// =============================================================================
// Maintenance interval and configuration
// =============================================================================

func TestSetMaintenanceIntervalValidatesAndClamps(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	assert.Error(t, svc.SetMaintenanceInterval(-time.Second))

	require.NoError(t, svc.SetMaintenanceInterval(time.Microsecond))
	assert.Equal(t, service.MinMaintenanceInterval, svc.MaintenanceInterval())
}

func TestSetMaintenanceIntervalReschedulesWhenBelowHostCheck(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")
	host.CheckInterval = time.Minute

	require.NoError(t, svc.SetMaintenanceInterval(time.Second))
	assert.Equal(t, []string{"/x"}, host.ScheduledMaintenance)
}

func TestCacheClearDelayFallsBackToHost(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")
	host.ClearDelay = 3 * time.Minute

	assert.Equal(t, 3*time.Minute, svc.CacheClearDelay())

	svc.SetCacheClearDelay(10 * time.Second)
	assert.Equal(t, 10*time.Second, svc.CacheClearDelay())
}

func TestConfigurationGet(t *testing.T) {
	svc := newTestService(service.OptionInstrumentation)
	attach(t, svc, "/x")

	op := operation.NewGet("/x/config")
	op.SetCompletion(func(o *operation.Operation, err error) {})
	svc.HandleConfigurationRequest(op)

	cfg, ok := op.Body().(*service.Configuration)
	require.True(t, ok)
	assert.Equal(t, "/x", cfg.SelfLink)
	assert.Contains(t, cfg.Options, "STATELESS")
	assert.Contains(t, cfg.Options, "INSTRUMENTATION")
	assert.Equal(t, "AVAILABLE", cfg.ProcessingStage)
}

func TestConfigurationPatchTogglesOptions(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	op := operation.NewPatch("/x/config").SetBody(&service.ConfigurationUpdateRequest{
		ToggleOptions: map[string]bool{"INSTRUMENTATION": true},
	})
	var final error
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleConfigurationRequest(op)

	require.NoError(t, final)
	assert.True(t, svc.HasOption(service.OptionInstrumentation))
}

func TestConfigurationPatchForbiddenToggleFails(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	op := operation.NewPatch("/x/config").SetBody(&service.ConfigurationUpdateRequest{
		ToggleOptions: map[string]bool{"REPLICATION": true},
	})
	var final error
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleConfigurationRequest(op)

	require.Error(t, final)
	assert.Equal(t, operation.StatusBadRequest, op.StatusCode())
}

func TestConfigSubPathDispatch(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	var final error
	op := operation.NewGet("/x" + service.ConfigSuffix)
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.NoError(t, final)
	cfg, ok := op.Body().(*service.Configuration)
	require.True(t, ok, "config sub-path must dispatch to the configuration handler")
	assert.Equal(t, "/x", cfg.SelfLink)
	assert.Empty(t, svc.Calls(), "configuration requests must not reach verb handlers")
}

func TestConfigurationPatchFromRawJSON(t *testing.T) {
	svc := newTestService()
	attach(t, svc, "/x")

	body := json.RawMessage(`{"toggleOptions":{"INSTRUMENTATION":true}}`)
	op := operation.NewPatch("/x" + service.ConfigSuffix).SetBody(body)
	var final error
	op.SetCompletion(func(o *operation.Operation, err error) { final = err })
	svc.HandleRequest(op)

	require.NoError(t, final)
	assert.True(t, svc.HasOption(service.OptionInstrumentation))
}

// =============================================================================
// Outbound requests
// =============================================================================

func TestSendRequestSetsReferer(t *testing.T) {
	svc := newTestService()
	host := attach(t, svc, "/x")
	host.SendFunc = func(op *operation.Operation) { op.Complete() }

	out := operation.NewGet("/y")
	out.SetCompletion(func(o *operation.Operation, err error) {})
	svc.SendRequest(out)

	assert.Equal(t, host.Public+"/x", out.Referer())
}
