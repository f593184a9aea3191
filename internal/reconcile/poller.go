package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Trigger names the event that caused a reconciliation.
type Trigger string

const (
	TriggerMount    Trigger = "mount"
	TriggerFocus    Trigger = "focus"
	TriggerInterval Trigger = "interval"
)

// defaultTimeout bounds a single reconciliation.
const defaultTimeout = 30 * time.Second

// Reconciler re-derives local state from the server.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Options configures a Poller.
type Options struct {
	// Interval between periodic reconciliations; zero disables the ticker.
	Interval time.Duration
	Timeout  time.Duration
	Logger   *logrus.Entry
}

// Status describes the most recent reconciliation.
type Status struct {
	Runs        int
	LastTrigger Trigger
	LastRun     time.Time
	LastErr     error
}

// Poller drives a Reconciler from mount, focus and interval triggers.
// A failed reconciliation is not retried; the next trigger tries again.
type Poller struct {
	target   Reconciler
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Entry

	triggerCh chan struct{}

	mu      sync.Mutex
	running bool
	status  Status
}

// New creates a Poller for target.
func New(target Reconciler, opts Options) *Poller {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{
		target:    target,
		interval:  opts.Interval,
		timeout:   timeout,
		logger:    logger,
		triggerCh: make(chan struct{}, 1),
	}
}

// Run reconciles once for mount, then on every focus and interval tick
// until ctx is cancelled. It returns nil on cancellation. Calling Run on a
// poller that is already running returns immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.reconcile(ctx, TriggerMount)

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.triggerCh:
			p.reconcile(ctx, TriggerFocus)
		case <-tick:
			p.reconcile(ctx, TriggerInterval)
		}
	}
}

// Focus requests a reconciliation. Requests made while one is queued are
// coalesced.
func (p *Poller) Focus() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns the outcome of the most recent reconciliation.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) reconcile(ctx context.Context, trigger Trigger) {
	rctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.target.Reconcile(rctx)
	if err != nil && ctx.Err() == nil {
		p.logger.WithError(err).WithField("trigger", trigger).Warn("reconciliation failed; waiting for next trigger")
	}

	p.mu.Lock()
	p.status = Status{
		Runs:        p.status.Runs + 1,
		LastTrigger: trigger,
		LastRun:     time.Now(),
		LastErr:     err,
	}
	p.mu.Unlock()
}
