package stats

import (
	"sync"

	"github.com/weftlabs/weft/operation"
)

// Utility is the shared sub-component a service allocates on first
// instrumentation use. It bundles the stat store with subscriber
// notification so passive services pay for neither.
type Utility struct {
	*Store

	mu      sync.Mutex
	nextSub int
	subs    map[int]func(*operation.Operation)
}

// NewUtility creates the utility component with an empty stat store and
// no subscribers.
func NewUtility() *Utility {
	return &Utility{Store: NewStore()}
}

// Subscribe registers fn to observe operations published by the owning
// service and returns a handle for Unsubscribe.
func (u *Utility) Subscribe(fn func(*operation.Operation)) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.subs == nil {
		u.subs = make(map[int]func(*operation.Operation))
	}
	id := u.nextSub
	u.nextSub++
	u.subs[id] = fn
	return id
}

// Unsubscribe removes a subscriber. Unknown handles are ignored.
func (u *Utility) Unsubscribe(id int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.subs, id)
}

// Notify fans an operation out to every subscriber.
func (u *Utility) Notify(op *operation.Operation) {
	u.mu.Lock()
	subs := make([]func(*operation.Operation), 0, len(u.subs))
	for _, fn := range u.subs {
		subs = append(subs, fn)
	}
	u.mu.Unlock()
	for _, fn := range subs {
		fn(op)
	}
}
