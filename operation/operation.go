// Package operation implements the asynchronous request/response
// envelope every service in the fabric is reached through. An Operation
// carries a verb, a target path, an opaque body, and an ordered list of
// continuations drained exactly once when the operation reaches its
// terminal outcome.
package operation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Pragma directives understood by the fabric. Pragmas ride along with
// the operation and are interpreted by the host, not by this package.
const (
	// PragmaStopService marks a DELETE as a service stop request: the
	// target must be detached from the host, not deleted as a resource.
	PragmaStopService = "weft/service-stop"
)

// CompletionFunc observes the terminal outcome of an operation. err is
// nil on success. Continuations registered with NestCompletion must
// themselves call Complete or Fail to let the chain proceed.
type CompletionFunc func(op *Operation, err error)

type opState int

const (
	statePending opState = iota
	stateDraining
	stateDone
)

// Operation is a single request/response exchange. It is created by a
// caller, passed by reference through the dispatch pipeline, mutated in
// place, and terminated by exactly one call to Complete or Fail.
//
// The continuation list behaves as a stack: the most recently nested
// continuation intercepts the outcome first, may rewrite body or
// status, and continues the chain by calling Complete or Fail again.
// Draining is iterative, never re-entrant, so deeply nested
// continuations cannot grow the call stack.
type Operation struct {
	id      uuid.UUID
	action  Action
	path    string
	referer string

	mu            sync.Mutex
	statusCode    int
	contentType   string
	body          any
	pragmas       map[string]struct{}
	authCtx       *AuthorizationContext
	instCtx       *InstrumentationContext
	completion    CompletionFunc
	continuations []CompletionFunc
	state         opState
	err           error
	inDrain       bool
	advance       bool
}

// New creates an operation for the given verb and target path.
func New(action Action, path string) *Operation {
	return &Operation{
		id:         uuid.New(),
		action:     action,
		path:       path,
		statusCode: StatusOK,
	}
}

func NewGet(path string) *Operation     { return New(ActionGet, path) }
func NewPost(path string) *Operation    { return New(ActionPost, path) }
func NewPut(path string) *Operation     { return New(ActionPut, path) }
func NewPatch(path string) *Operation   { return New(ActionPatch, path) }
func NewDelete(path string) *Operation  { return New(ActionDelete, path) }
func NewOptions(path string) *Operation { return New(ActionOptions, path) }

// ID returns the unique identifier assigned at creation.
func (op *Operation) ID() uuid.UUID { return op.id }

// Action returns the operation verb.
func (op *Operation) Action() Action { return op.action }

// Path returns the target path (self-link or a resource under it).
func (op *Operation) Path() string { return op.path }

// Referer identifies the sender; it is set by the sending service.
func (op *Operation) Referer() string { return op.referer }

// SetReferer records the sender path.
func (op *Operation) SetReferer(referer string) *Operation {
	op.referer = referer
	return op
}

// StatusCode returns the current response status.
func (op *Operation) StatusCode() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.statusCode
}

// SetStatusCode sets the response status.
func (op *Operation) SetStatusCode(code int) *Operation {
	op.mu.Lock()
	op.statusCode = code
	op.mu.Unlock()
	return op
}

// Body returns the opaque payload.
func (op *Operation) Body() any {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.body
}

// HasBody reports whether a payload is attached.
func (op *Operation) HasBody() bool {
	return op.Body() != nil
}

// SetBody replaces the payload.
func (op *Operation) SetBody(body any) *Operation {
	op.mu.Lock()
	op.body = body
	op.mu.Unlock()
	return op
}

// ContentType returns the payload content type.
func (op *Operation) ContentType() string {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.contentType
}

// SetContentType records the payload content type.
func (op *Operation) SetContentType(ct string) *Operation {
	op.mu.Lock()
	op.contentType = ct
	op.mu.Unlock()
	return op
}

// AddPragma attaches a pragma directive.
func (op *Operation) AddPragma(pragma string) *Operation {
	op.mu.Lock()
	if op.pragmas == nil {
		op.pragmas = make(map[string]struct{}, 1)
	}
	op.pragmas[pragma] = struct{}{}
	op.mu.Unlock()
	return op
}

// HasPragma reports whether a pragma directive is attached.
func (op *Operation) HasPragma(pragma string) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	_, ok := op.pragmas[pragma]
	return ok
}

// AuthorizationContext returns the attached principal, or nil.
func (op *Operation) AuthorizationContext() *AuthorizationContext {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.authCtx
}

// SetAuthorizationContext attaches a principal to the operation.
// Services must not call this directly on operations they did not
// originate; they go through their privileged accessor instead.
func (op *Operation) SetAuthorizationContext(ctx *AuthorizationContext) *Operation {
	op.mu.Lock()
	op.authCtx = ctx
	op.mu.Unlock()
	return op
}

// InstrumentationContext returns the attached timing context, or nil.
func (op *Operation) InstrumentationContext() *InstrumentationContext {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.instCtx
}

// SetInstrumentationContext attaches a timing context, opting the
// operation into handler duration stats.
func (op *Operation) SetInstrumentationContext(ctx *InstrumentationContext) *Operation {
	op.mu.Lock()
	op.instCtx = ctx
	op.mu.Unlock()
	return op
}

// SetCompletion sets the caller's terminal callback. It runs exactly
// once, after every nested continuation has observed the outcome.
func (op *Operation) SetCompletion(fn CompletionFunc) *Operation {
	op.mu.Lock()
	op.completion = fn
	op.mu.Unlock()
	return op
}

// NestCompletion inserts a continuation at the front of the chain: it
// observes the terminal outcome before every continuation registered
// earlier, and must call Complete or Fail to let the chain proceed.
// Nesting from inside a running continuation is allowed; the new
// continuation runs next.
func (op *Operation) NestCompletion(fn CompletionFunc) *Operation {
	op.mu.Lock()
	if op.state == stateDone {
		op.mu.Unlock()
		panic(fmt.Sprintf("operation %s %s: nesting on completed operation", op.action, op.path))
	}
	op.continuations = append(op.continuations, fn)
	op.mu.Unlock()
	return op
}

// Complete marks the operation successful and drains the continuation
// chain. Called from inside a draining continuation it resumes the
// chain instead, clearing any failure a prior continuation recorded.
func (op *Operation) Complete() {
	op.finish(nil)
}

// Fail marks the operation failed. The status code is derived from err
// unless an error status was already set. The continuation chain still
// drains; each continuation observes the failure.
func (op *Operation) Fail(err error) {
	if err == nil {
		err = errors.New("operation failed with unspecified error")
	}
	op.finish(err)
}

// Done reports whether the terminal callback has run.
func (op *Operation) Done() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state == stateDone
}

// Failure returns the terminal error recorded so far, or nil.
func (op *Operation) Failure() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

func (op *Operation) finish(err error) {
	op.mu.Lock()
	if op.state == stateDone {
		op.mu.Unlock()
		panic(fmt.Sprintf("operation %s %s: already completed", op.action, op.path))
	}
	op.err = err
	if err != nil && op.statusCode < StatusBadRequest {
		op.statusCode = errorStatusCode(err)
	}
	if op.state == stateDraining && op.inDrain {
		// Re-entrant continue from inside a running continuation:
		// record the decision, the drain loop advances after it
		// returns.
		op.advance = true
		op.mu.Unlock()
		return
	}
	op.state = stateDraining
	op.drainLocked()
}

// drainLocked pops continuations until one suspends or the chain is
// empty, then invokes the terminal callback. Called with op.mu held;
// returns with it released.
func (op *Operation) drainLocked() {
	for {
		n := len(op.continuations)
		if n == 0 {
			op.state = stateDone
			cb := op.completion
			err := op.err
			op.mu.Unlock()
			if cb != nil {
				cb(op, err)
			}
			return
		}
		next := op.continuations[n-1]
		op.continuations = op.continuations[:n-1]
		op.inDrain = true
		op.advance = false
		err := op.err
		op.mu.Unlock()

		op.invoke(next, err)

		op.mu.Lock()
		op.inDrain = false
		if !op.advance {
			// The continuation suspended: it registered async work and
			// will resume the chain with Complete or Fail later.
			op.mu.Unlock()
			return
		}
	}
}

// invoke runs one continuation, converting a panic into a failure so
// faults never escape the drain loop.
func (op *Operation) invoke(fn CompletionFunc, err error) {
	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(error)
			if !ok {
				rerr = fmt.Errorf("continuation panic: %v", r)
			}
			op.mu.Lock()
			op.err = rerr
			if op.statusCode < StatusBadRequest {
				op.statusCode = errorStatusCode(rerr)
			}
			op.advance = true
			op.mu.Unlock()
		}
	}()
	fn(op, err)
}
