package proximity

import "time"

// pendingCall is a single-slot delayed call. Scheduling while a call is
// outstanding is a no-op. Fires are tagged with a generation so a fire that
// raced with cancel is recognised and ignored.
//
// pendingCall is owned by the resolver loop and is not safe for concurrent use.
type pendingCall struct {
	delay time.Duration
	timer *time.Timer
	gen   uint64
}

// schedule arranges for fire to be called with the current generation after
// the delay. It reports whether a new call was scheduled.
func (p *pendingCall) schedule(fire func(gen uint64)) bool {
	if p.timer != nil {
		return false
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(p.delay, func() { fire(gen) })
	return true
}

// cancel drops the outstanding call, if any.
func (p *pendingCall) cancel() {
	if p.timer == nil {
		return
	}
	p.timer.Stop()
	p.timer = nil
	p.gen++
}

// fired consumes a fire for gen. It returns false for stale fires.
func (p *pendingCall) fired(gen uint64) bool {
	if p.timer == nil || gen != p.gen {
		return false
	}
	p.timer = nil
	return true
}

func (p *pendingCall) pending() bool {
	return p.timer != nil
}
