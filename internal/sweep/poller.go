package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/genlab/internal/monitoring"
	"github.com/banshee-data/genlab/internal/timeutil"
)

var pollLogf = monitoring.Component("poller")

// Default polling cadence.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

// PollStatus is the state of the result poller.
type PollStatus string

const (
	PollIdle       PollStatus = "idle"
	PollPolling    PollStatus = "polling"
	PollCompleted  PollStatus = "completed"
	PollTimedOut   PollStatus = "timed_out"
	PollSuperseded PollStatus = "superseded"
	PollCancelled  PollStatus = "cancelled"
)

// Terminal reports whether no further ticks follow the status.
func (s PollStatus) Terminal() bool {
	return s != PollIdle && s != PollPolling
}

// Update is delivered to observers after every applied tick and on every
// terminal transition.
type Update struct {
	SessionID string     `json:"session_id"`
	Status    PollStatus `json:"status"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
}

// Poller repeatedly asks the host for the outputs of a session's jobs until
// all are ready or the session times out. At most one session is active;
// starting another supersedes it, and every tick of a superseded session
// returns without touching state.
type Poller struct {
	source   OutputSource
	clock    timeutil.Clock
	interval time.Duration

	mu        sync.Mutex
	activeID  string
	gen       uint64
	session   *Session
	status    PollStatus
	timer     timeutil.Timer
	cancel    context.CancelFunc
	observers []func(Update)
	applied   int
}

// NewPoller creates a Poller. A zero interval uses DefaultPollInterval.
func NewPoller(source OutputSource, clock timeutil.Clock, interval time.Duration) *Poller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		clock:    clock,
		interval: interval,
		status:   PollIdle,
	}
}

// Subscribe registers fn to receive updates. fn is called without the
// poller's lock held and may call back into the poller.
func (p *Poller) Subscribe(fn func(Update)) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

func (p *Poller) notify(observers []func(Update), u Update) {
	for _, fn := range observers {
		fn(u)
	}
}

// Start makes s the active session and runs its first tick on the calling
// goroutine. Later ticks run from the clock's timer. A previously active
// session is superseded, including an earlier Start of the same session.
// The timeout counts from s.StartedAt.
func (p *Poller) Start(s *Session) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	prevID, prevStatus := p.activeID, p.status
	p.stopLocked()
	p.gen++
	gen := p.gen
	p.activeID = s.ID
	p.session = s.Clone()
	if p.session.Timeout <= 0 {
		p.session.Timeout = DefaultPollTimeout
	}
	p.status = PollPolling
	p.cancel = cancel
	observers := append([]func(Update){}, p.observers...)
	p.mu.Unlock()

	if prevID != "" && prevID != s.ID && prevStatus == PollPolling {
		pollLogf("session %s superseded by %s", prevID, s.ID)
		p.notify(observers, Update{SessionID: prevID, Status: PollSuperseded})
	}
	pollLogf("session %s polling %d jobs (output node %d)", s.ID, len(s.Jobs), s.OutputNodeID)

	p.tick(ctx, s.ID, gen)
}

// stopLocked stops the pending timer and in-flight requests. Caller holds p.mu.
func (p *Poller) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Cancel stops the pending tick and invalidates the active session so that
// any in-flight tick observes a stale session and discards its results.
func (p *Poller) Cancel() {
	p.cancelSession("")
}

// CancelSession cancels id only if it is still the active session. It
// reports whether anything was cancelled.
func (p *Poller) CancelSession(id string) bool {
	if id == "" {
		return false
	}
	return p.cancelSession(id)
}

func (p *Poller) cancelSession(want string) bool {
	p.mu.Lock()
	id := p.activeID
	if id == "" || (want != "" && want != id) {
		p.mu.Unlock()
		return false
	}
	wasPolling := p.status == PollPolling
	p.stopLocked()
	p.gen++
	p.activeID = ""
	if wasPolling {
		p.status = PollCancelled
	}
	var total, completed int
	if p.session != nil {
		total, completed = len(p.session.Jobs), p.session.CompletedCount()
	}
	observers := append([]func(Update){}, p.observers...)
	p.mu.Unlock()

	if wasPolling {
		pollLogf("session %s cancelled", id)
		p.notify(observers, Update{SessionID: id, Status: PollCancelled, Completed: completed, Total: total})
	}
	return true
}

// IsActive reports whether id is the active session.
func (p *Poller) IsActive(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return id != "" && p.activeID == id
}

// Status returns the poller status.
func (p *Poller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// AppliedTicks counts the ticks whose results were written to a session.
func (p *Poller) AppliedTicks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied
}

// Snapshot returns a copy of the current session, or nil before Start.
func (p *Poller) Snapshot() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.Clone()
}

type pendingJob struct {
	index  int
	handle string
}

// current reports whether a tick of generation gen for id may still touch
// state. Caller holds p.mu.
func (p *Poller) current(id string, gen uint64) bool {
	return p.activeID == id && p.gen == gen
}

func (p *Poller) tick(ctx context.Context, id string, gen uint64) {
	p.mu.Lock()
	if !p.current(id, gen) {
		p.mu.Unlock()
		return
	}
	s := p.session
	if p.clock.Since(s.StartedAt) > s.Timeout {
		p.status = PollTimedOut
		p.stopLocked()
		u := Update{SessionID: id, Status: PollTimedOut, Completed: s.CompletedCount(), Total: len(s.Jobs)}
		observers := append([]func(Update){}, p.observers...)
		p.mu.Unlock()
		pollLogf("session %s timed out with %d/%d results", id, u.Completed, u.Total)
		p.notify(observers, u)
		return
	}

	var pending []pendingJob
	for i, j := range s.Jobs {
		if j.Handle != "" && !j.Ready() {
			pending = append(pending, pendingJob{index: i, handle: j.Handle})
		}
	}
	outputNode := s.OutputNodeID
	p.mu.Unlock()

	// Host requests run without the lock; the session is re-checked below.
	results := make(map[int]string, len(pending))
	for _, pj := range pending {
		url, err := p.source.GetJobOutput(ctx, pj.handle, outputNode)
		if err != nil {
			if ctx.Err() == nil {
				pollLogf("WARNING: job %d (%s): %v", pj.index, pj.handle, err)
			}
			continue
		}
		if url != "" {
			results[pj.index] = url
		}
	}

	p.mu.Lock()
	if !p.current(id, gen) {
		p.mu.Unlock()
		return
	}
	now := p.clock.Now()
	for i, url := range results {
		readyAt := now
		s.Jobs[i].ResultURL = url
		s.Jobs[i].ReadyAt = &readyAt
	}
	p.applied++

	u := Update{SessionID: id, Completed: s.CompletedCount(), Total: len(s.Jobs)}
	if u.Completed == u.Total {
		p.status = PollCompleted
		p.stopLocked()
	} else {
		p.timer = p.clock.AfterFunc(p.interval, func() { p.tick(ctx, id, gen) })
	}
	u.Status = p.status
	observers := append([]func(Update){}, p.observers...)
	p.mu.Unlock()

	if u.Status == PollCompleted {
		pollLogf("session %s completed: %d results", id, u.Total)
	}
	p.notify(observers, u)
}
