package eventbus

import (
	"encoding/json"
	"strings"
	"sync"
)

// HandlerFunc is a user-supplied function executed in response to an event.
// The payload arrives as the raw JSON document the event was published with;
// the bus never introspects it.
type HandlerFunc func(ctx *EventContext, payload json.RawMessage) error

// Descriptor is one registered handler: its fully-qualified path, the
// function, and whether it requires the dispatch transaction.
type Descriptor struct {
	Path          string
	Fn            HandlerFunc
	Transactional bool
}

// HandlerOption configures a single registration.
type HandlerOption func(*Descriptor)

// Transactional marks the handler as requiring a database transaction
// spanning the whole event dispatch. When any handler matched for an event is
// transactional, every handler of that event shares the same session.
func Transactional() HandlerOption {
	return func(d *Descriptor) {
		d.Transactional = true
	}
}

// Router is a composable registry mapping event-type strings to ordered
// handlers. Sub-routers created with Mount prepend their prefix, joined with
// ".". Matching is exact string equality against the composed path, and
// handlers run in registration order across the whole tree.
//
// A Router is mutable until the bus starts; Start freezes it and later
// registrations fail with ErrRouterFrozen.
type Router struct {
	prefix string
	reg    *registry
}

type registry struct {
	mu     sync.RWMutex
	frozen bool
	byPath map[string][]Descriptor
}

// NewRouter creates an empty root router.
func NewRouter() *Router {
	return &Router{
		reg: &registry{byPath: make(map[string][]Descriptor)},
	}
}

// Mount returns a sub-router whose registrations are prefixed with prefix.
// Sub-routers share the parent's registry, so registration order is preserved
// across the composed tree.
func (r *Router) Mount(prefix string) *Router {
	return &Router{
		prefix: joinPath(r.prefix, prefix),
		reg:    r.reg,
	}
}

// On registers fn for the given path (relative to the router's prefix).
// Multiple handlers may share one path; they run in registration order.
func (r *Router) On(path string, fn HandlerFunc, opts ...HandlerOption) error {
	if fn == nil {
		return ErrNilHandler
	}

	full := joinPath(r.prefix, path)
	if full == "" {
		return ErrHandlerPathEmpty
	}

	d := Descriptor{Path: full, Fn: fn}
	for _, opt := range opts {
		opt(&d)
	}

	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()

	if r.reg.frozen {
		return ErrRouterFrozen
	}

	r.reg.byPath[full] = append(r.reg.byPath[full], d)

	return nil
}

// Match returns the handlers registered for exactly eventType, in
// registration order. An empty result is not an error: the worker marks
// unmatched events done so stray types do not accumulate dead rows.
func (r *Router) Match(eventType string) []Descriptor {
	r.reg.mu.RLock()
	defer r.reg.mu.RUnlock()

	return r.reg.byPath[eventType]
}

// freeze makes the router immutable. Called once by the bus at start.
func (r *Router) freeze() {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()
	r.reg.frozen = true
}

func joinPath(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, ".")
		if p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, ".")
}
