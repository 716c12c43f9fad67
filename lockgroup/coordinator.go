package lockgroup

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/mit-pdos/go-lockgroup/syncutil"
)

// Infinite as a timeout never gives up.
const Infinite time.Duration = -1

// Coordinator owns the lock groups of a set of threads. Resources claimed
// through one Coordinator must not be used with another.
type Coordinator struct {
	mu     syncutil.Mutex
	groups arena

	tieBreak atomic.Uint64

	now     func() time.Time
	log     *logrus.Entry
	metrics *Metrics
	stats   counters
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the entry used for debug and trace output.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithMetrics reports coordinator events to m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock replaces time.Now as the source of handle timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		now: time.Now,
		log: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "lockgroup")
	return c
}

// NewThread returns the context object for one goroutine's chain of
// acquisitions. A Thread must not be used by two goroutines at once.
func (c *Coordinator) NewThread() *Thread {
	return &Thread{c: c}
}

// Thread carries the group a goroutine is currently using.
type Thread struct {
	c     *Coordinator
	group GroupID
}

// Group returns the group the thread is using, or the zero GroupID.
func (t *Thread) Group() GroupID {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.c.groups.get(t.group) == nil {
		return GroupID{}
	}
	return t.group
}

// WaitingOn returns the group the thread is blocked on, if any.
func (t *Thread) WaitingOn() (GroupID, bool) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	g := t.c.groups.get(t.group)
	if g == nil || g.waitingOn.IsZero() {
		return GroupID{}, false
	}
	return g.waitingOn, true
}

// Acquire starts a new step for holder on this thread and claims r for it.
// The step joins the thread's current group, or starts a new group if the
// thread has none. On failure no handle is returned and the step is
// discarded; resources claimed by earlier steps stay claimed.
func (t *Thread) Acquire(r Resource, holder Holder, timeout time.Duration) (*Handle, error) {
	ctx, cancel := timeoutContext(timeout)
	defer cancel()
	return t.AcquireContext(ctx, r, holder)
}

// AcquireContext is Acquire with the time budget taken from ctx.
func (t *Thread) AcquireContext(ctx context.Context, r Resource, holder Holder) (*Handle, error) {
	c := t.c

	c.mu.Lock()
	g := c.groups.get(t.group)
	if g == nil {
		g = c.groups.alloc()
		g.owner = t
		t.group = g.id
		c.metrics.groupStarted()
	}
	h := &Handle{
		c:           c,
		th:          t,
		holder:      holder,
		group:       g.id,
		created:     c.now(),
		interrupted: map[*Handle]struct{}{},
	}
	var list []interrupt
	if n := len(g.queue); n > 0 {
		prev := g.queue[n-1]
		h.interrupted[prev] = struct{}{}
		list = append(list, interrupt{by: holder, of: prev.holder, sameThread: true})
	}
	g.queue = append(g.queue, h)
	c.mu.Unlock()

	c.stats.acquisitions.Inc()
	c.metrics.acquisition()
	c.deliver(list)

	if err := h.AddResourceContext(ctx, r); err != nil {
		h.Release()
		return nil, err
	}
	return h, nil
}

func timeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout < 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
