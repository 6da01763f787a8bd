// Package oommsg carries out-of-memory notifications from the frame
// allocator to whatever reclaimer has subscribed to them. Adapted
// from biscuit/src/oommsg/oommsg.go: biscuit sent these on a global
// channel from its eviction daemon, a role this single-CPU core
// delegates to callers of mem.Physmem_t.Subscribe.
package oommsg

// Oommsg_t is sent on a reclaimer's channel when an allocation could
// not be satisfied. Need is the number of frames the requester
// needed; Resume is a buffered channel the reclaimer may close or
// send on. The frame allocator does not wait on Resume and does not
// retry: the failed allocation has already returned its error.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}

// Notifier is a registry of channels notified on OOM. Unlike
// biscuit's single package-level channel, this is a value so tests
// can use an isolated instance per Physmem_t rather than sharing
// global state.
type Notifier struct {
	subs []chan Oommsg_t
}

// Subscribe registers ch to receive future OOM notifications.
func (n *Notifier) Subscribe(ch chan Oommsg_t) {
	n.subs = append(n.subs, ch)
}

// Notify sends need to every subscriber able to receive it
// immediately; subscribers that would block are skipped, since an
// OOM notification is advisory, not a guarantee of delivery.
func (n *Notifier) Notify(need int) {
	for _, ch := range n.subs {
		msg := Oommsg_t{Need: need, Resume: make(chan bool, 1)}
		select {
		case ch <- msg:
		default:
		}
	}
}
