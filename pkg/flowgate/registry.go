package flowgate

import (
	"sync"
	"sync/atomic"

	"github.com/hossein/flowgate/pkg/flowgate/rwnd"
)

// Registry maps socket file descriptors to flow identities. A descriptor
// is present if and only if its connection is currently being scheduled.
//
// Per-key operations are linearizable and never take the queue mutex, so
// accept/close stay cheap while a rotation pass is running. Descriptors
// are reused by the OS after close, which is why Remove must run before
// the shim returns from a close.
type Registry struct {
	flows sync.Map // int → rwnd.FlowKey
	n     atomic.Int64
}

// Register inserts the identity for fd. Returns false if fd was already
// present, in which case the existing entry is kept; that should not
// happen under correct accept/close sequencing.
func (r *Registry) Register(fd int, key rwnd.FlowKey) bool {
	if _, loaded := r.flows.LoadOrStore(fd, key); loaded {
		return false
	}
	r.n.Add(1)
	return true
}

// Visit calls fn with fd's identity if fd is registered, and reports
// whether it was. The substrate is only ever told about a flow through
// Visit, so it never learns an identity after the registry has dropped it.
func (r *Registry) Visit(fd int, fn func(rwnd.FlowKey)) bool {
	v, ok := r.flows.Load(fd)
	if !ok {
		return false
	}
	fn(v.(rwnd.FlowKey))
	return true
}

// Contains reports whether fd is registered.
func (r *Registry) Contains(fd int) bool {
	_, ok := r.flows.Load(fd)
	return ok
}

// Remove erases fd. Idempotent.
func (r *Registry) Remove(fd int) {
	if _, loaded := r.flows.LoadAndDelete(fd); loaded {
		r.n.Add(-1)
	}
}

// Len returns the approximate number of registered flows.
func (r *Registry) Len() int {
	return int(r.n.Load())
}
