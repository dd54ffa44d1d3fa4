// Package filter implements the cross-cutting interceptor chain an
// operation runs through before reaching its verb handler.
package filter

import (
	"github.com/weftlabs/weft/operation"
)

// Decision is a filter's verdict on an operation.
type Decision int

const (
	// Continue hands the operation to the next filter.
	Continue Decision = iota
	// Suspend means the filter took ownership; it resumes the chain
	// later through Context.Resume.
	Suspend
	// Stop ends processing; the filter has already completed or failed
	// the operation.
	Stop
)

// Target is the service a chain invocation is bound to. Filters only
// need its identity.
type Target interface {
	SelfLink() string
}

// Filter inspects one operation. Filters run in registration order.
type Filter interface {
	Process(op *operation.Operation, ctx *Context) Decision
}

// Func adapts a plain function to the Filter interface.
type Func func(op *operation.Operation, ctx *Context) Decision

func (f Func) Process(op *operation.Operation, ctx *Context) Decision {
	return f(op, ctx)
}

// Chain is an ordered set of filters. A chain is immutable once built
// and may be shared by concurrent operations; per-operation position
// lives in the Context.
type Chain struct {
	filters []Filter
}

// NewChain builds a chain running the given filters in order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Context carries one operation's progress through a chain.
type Context struct {
	chain  *Chain
	target Target
	next   int
	then   func(*operation.Operation)
}

// NewContext binds a chain traversal to a target service.
func (c *Chain) NewContext(target Target) *Context {
	return &Context{chain: c, target: target}
}

// Target returns the service the traversal is bound to.
func (ctx *Context) Target() Target { return ctx.target }

// Resume continues a suspended traversal from the next filter.
func (ctx *Context) Resume(op *operation.Operation) {
	ctx.chain.run(op, ctx)
}

// ProcessRequest runs op through the chain. then is invoked when every
// filter has let the operation pass; it is not invoked when a filter
// stops processing.
func (c *Chain) ProcessRequest(op *operation.Operation, ctx *Context, then func(*operation.Operation)) {
	ctx.then = then
	ctx.next = 0
	c.run(op, ctx)
}

func (c *Chain) run(op *operation.Operation, ctx *Context) {
	for ctx.next < len(c.filters) {
		f := c.filters[ctx.next]
		ctx.next++
		switch f.Process(op, ctx) {
		case Continue:
		case Suspend:
			return
		case Stop:
			return
		}
	}
	if ctx.then != nil {
		ctx.then(op)
	}
}
