package service

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Option is one behavioral capability a service instance declares.
// The set determines dispatch legality: concurrency options decide
// whether the host may dispatch operations directly, persistence
// decides whether GET results are superseded by an index query, and
// instrumentation gates every stat call.
type Option uint32

const (
	// OptionStateless marks a service with no durable state of its own.
	OptionStateless Option = 1 << iota
	// OptionConcurrentGetHandling permits concurrent in-flight reads.
	OptionConcurrentGetHandling
	// OptionConcurrentUpdateHandling permits concurrent in-flight writes.
	OptionConcurrentUpdateHandling
	// OptionPersistence declares durable state behind the document
	// index; GETs re-query the index so callers never see a stale
	// in-memory snapshot.
	OptionPersistence
	// OptionPeriodicMaintenance asks the host for periodic maintenance
	// triggers.
	OptionPeriodicMaintenance
	// OptionInstrumentation enables stat recording.
	OptionInstrumentation
	// OptionURINamespaceOwner means the service answers for every path
	// under its self-link, not just the self-link itself.
	OptionURINamespaceOwner
	// OptionReplication is never supported on this base.
	OptionReplication
	// OptionOwnerSelection is never supported on this base.
	OptionOwnerSelection
	// OptionIdempotentPost is never supported on this base.
	OptionIdempotentPost
)

// forbiddenToggles can never change after construction, in either
// direction. Attempting to toggle one is a programming error the
// caller must hear about.
const forbiddenToggles = OptionReplication | OptionOwnerSelection | OptionIdempotentPost

func (o Option) String() string {
	switch o {
	case OptionStateless:
		return "STATELESS"
	case OptionConcurrentGetHandling:
		return "CONCURRENT_GET_HANDLING"
	case OptionConcurrentUpdateHandling:
		return "CONCURRENT_UPDATE_HANDLING"
	case OptionPersistence:
		return "PERSISTENCE"
	case OptionPeriodicMaintenance:
		return "PERIODIC_MAINTENANCE"
	case OptionInstrumentation:
		return "INSTRUMENTATION"
	case OptionURINamespaceOwner:
		return "URI_NAMESPACE_OWNER"
	case OptionReplication:
		return "REPLICATION"
	case OptionOwnerSelection:
		return "OWNER_SELECTION"
	case OptionIdempotentPost:
		return "IDEMPOTENT_POST"
	}
	return fmt.Sprintf("Option(%#x)", uint32(o))
}

// ParseOption maps an option name back to its value. Used by the
// configuration PATCH handler.
func ParseOption(name string) (Option, error) {
	for bit := OptionStateless; bit <= OptionIdempotentPost; bit <<= 1 {
		if bit.String() == name {
			return bit, nil
		}
	}
	return 0, fmt.Errorf("unknown service option %q", name)
}

// OptionSet is a service's capability set: an immutable snapshot taken
// at construction plus a narrow mutable cell for the togglable subset.
// Reads are lock-free; toggles serialize on one mutex.
type OptionSet struct {
	mu   sync.Mutex
	bits atomic.Uint32
}

// NewOptionSet builds a set containing the given options.
func NewOptionSet(opts ...Option) *OptionSet {
	s := &OptionSet{}
	var bits uint32
	for _, o := range opts {
		bits |= uint32(o)
	}
	s.bits.Store(bits)
	return s
}

// Has reports whether the option is currently set.
func (s *OptionSet) Has(o Option) bool {
	return s.bits.Load()&uint32(o) != 0
}

// Toggle sets or clears an option. The replication, owner-selection
// and idempotent-post options reject toggling in either direction.
// changed reports whether the set actually changed.
func (s *OptionSet) Toggle(o Option, enable bool) (changed bool, err error) {
	if o&forbiddenToggles != 0 {
		return false, fmt.Errorf("option %s is not supported", o)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bits := s.bits.Load()
	var next uint32
	if enable {
		next = bits | uint32(o)
	} else {
		next = bits &^ uint32(o)
	}
	if next == bits {
		return false, nil
	}
	s.bits.Store(next)
	return true, nil
}

// List returns the currently set options.
func (s *OptionSet) List() []Option {
	bits := s.bits.Load()
	var out []Option
	for bit := OptionStateless; bit <= OptionIdempotentPost; bit <<= 1 {
		if bits&uint32(bit) != 0 {
			out = append(out, bit)
		}
	}
	return out
}
