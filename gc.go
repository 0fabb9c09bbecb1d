package scopearena

import (
	"context"
	"errors"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	cleanerName   = "cleaner"
	compactorName = "compactor"
)

// passFunc runs one full pass over all arenas. worked reports whether the
// pass changed anything. A non-nil error means the pass did not complete.
type passFunc func(ctx context.Context) (worked bool, err error)

type collector struct {
	name  string
	pass  passFunc
	epoch *atomic.Uint64
	every time.Duration
	wake  chan struct{}
	// idleOnly sleeps only after passes that did no work.
	idleOnly bool
}

// start launches the cleaner and the compactor.
func (t *tree) start() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	t.cancel = cancel
	t.group = g
	t.running.Store(true)

	collectors := []collector{
		{name: cleanerName, pass: t.cleanerPass, epoch: &t.cleanerEpoch, every: t.cfg.CleanerInterval, idleOnly: true},
		{name: compactorName, pass: t.compactorPass, epoch: &t.compactorEpoch, every: t.cfg.CompactorInterval},
	}
	for i := range collectors {
		collectors[i].wake = make(chan struct{}, 1)
		t.wake = append(t.wake, collectors[i].wake)
	}
	for _, c := range collectors {
		g.Go(func() error {
			return t.loop(ctx, c)
		})
	}
}

// stop cancels the collectors, waits for them and frees every retired
// block that has drained.
func (t *tree) stop() {
	if !t.running.Swap(false) {
		return
	}

	t.cancel()
	if err := t.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		t.logger.WarnContext(context.Background(), "background collectors stopped with error", "error", err)
	}

	for _, a := range t.snapshot() {
		if !a.enter() {
			continue
		}
		a.allocMu.Lock()
		a.drainRetiredLocked()
		a.allocMu.Unlock()
		a.leave()
	}
}

// loop runs passes of c until ctx is cancelled. The collector's epoch is
// advanced once per completed pass.
func (t *tree) loop(ctx context.Context, c collector) error {
	log := t.logger.WithCollector(c.name)

	timer := time.NewTimer(c.every)
	defer timer.Stop()

	for {
		if err := t.rc.AcquireBackground(ctx); err != nil {
			return nil
		}
		worked, completed := t.safePass(ctx, log, c)
		t.rc.ReleaseBackground()

		if completed {
			c.epoch.Add(1)
		}
		if ctx.Err() != nil {
			return nil
		}
		if worked && c.idleOnly {
			continue
		}

		timer.Reset(c.every)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-c.wake:
		}
	}
}

// nudge cuts the current sleep of every collector short.
func (t *tree) nudge() {
	for _, w := range t.wake {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// safePass runs one pass and recovers a panic so that a faulty pass does
// not take the process down.
func (t *tree) safePass(ctx context.Context, log *Logger, c collector) (worked, completed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.LogPanic(ctx, c.name, r, debug.Stack())
			worked, completed = false, false
		}
	}()

	worked, err := c.pass(ctx)
	return worked, err == nil
}
