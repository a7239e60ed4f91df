package supervisor

import (
	"sync"
)

// ChatTarget is the real chat endpoint recovered from the bootstrap config
// response. It is written at most once per process and is immutable
// thereafter (spec.md §3).
type ChatTarget struct {
	Host string
	Port uint16
}

// chatTargetCell is a write-once cell with a condition variable: exactly the
// primitive spec.md §9 ("Event-emitter → typed channel") asks for in place
// of a named-event dispatch.
type chatTargetCell struct {
	mu     sync.Mutex
	cond   *sync.Cond
	target *ChatTarget
}

func newChatTargetCell() *chatTargetCell {
	c := &chatTargetCell{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Set stores the target if not already set. Returns false if a target was
// already present (subsequent writes are no-ops: ChatTarget is write-once).
func (c *chatTargetCell) Set(t ChatTarget) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target != nil {
		return false
	}
	c.target = &t
	c.cond.Broadcast()
	return true
}

// Get returns the current target and whether it has been set.
func (c *chatTargetCell) Get() (ChatTarget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return ChatTarget{}, false
	}
	return *c.target, true
}

// Wait blocks until the target is set or the stop channel closes, returning
// ok=false in the latter case. Used by the Chat Interceptor's accept path
// (spec.md §4.2 step 1). It blocks on the condition variable; a helper
// goroutine broadcasts when stop closes, so Stop() can unwind it.
func (c *chatTargetCell) Wait(stop <-chan struct{}) (ChatTarget, bool) {
	if t, ok := c.Get(); ok {
		return t, true
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-stop:
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.target == nil {
		select {
		case <-stop:
			return ChatTarget{}, false
		default:
		}
		c.cond.Wait()
	}
	return *c.target, true
}
