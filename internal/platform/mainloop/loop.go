package mainloop

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TaskID identifies a scheduled task. Zero is never a valid id.
type TaskID int64

// Loop is the single cooperative execution context that owns all shared
// in-memory state. Registry mutations, turn transitions and scheduler polls
// all run on it; other goroutines hand work over via RunOnLoop, which is the
// only thread-safe entry point. Tick-based tasks fire on a fixed interval
// driven by Run (or by Tick directly in tests).
type Loop struct {
	tickInterval time.Duration
	drainPerTick int
	logger       zerolog.Logger

	mu      sync.Mutex
	tick    int64
	nextID  TaskID
	tasks   map[TaskID]*task
	relay   []func()
	running bool
}

type task struct {
	id       TaskID
	fn       func()
	dueTick  int64
	interval int64 // 0 for one-shot tasks
}

// Options tunes the loop. Zero values fall back to the production defaults:
// a 50ms tick and one relayed callback per tick.
type Options struct {
	TickInterval time.Duration
	DrainPerTick int
}

func New(opts Options, logger zerolog.Logger) *Loop {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 50 * time.Millisecond
	}
	if opts.DrainPerTick <= 0 {
		opts.DrainPerTick = 1
	}
	return &Loop{
		tickInterval: opts.TickInterval,
		drainPerTick: opts.DrainPerTick,
		logger:       logger.With().Str("component", "mainloop").Logger(),
		tasks:        make(map[TaskID]*task),
	}
}

// TickInterval reports the configured tick duration.
func (l *Loop) TickInterval() time.Duration {
	return l.tickInterval
}

// DurationToTicks converts a wall-clock duration to a tick count, rounding
// up so a non-zero duration never becomes an immediate task.
func (l *Loop) DurationToTicks(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	ticks := int64((d + l.tickInterval - 1) / l.tickInterval)
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

// ScheduleRepeating registers fn to first run after delayTicks ticks and
// then every intervalTicks ticks. An interval below one tick is clamped to
// one.
func (l *Loop) ScheduleRepeating(fn func(), delayTicks, intervalTicks int64) TaskID {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	return l.add(fn, delayTicks, intervalTicks)
}

// ScheduleOnce registers fn to run a single time after delayTicks ticks.
func (l *Loop) ScheduleOnce(fn func(), delayTicks int64) TaskID {
	return l.add(fn, delayTicks, 0)
}

func (l *Loop) add(fn func(), delayTicks, intervalTicks int64) TaskID {
	if delayTicks < 0 {
		delayTicks = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.tasks[id] = &task{
		id:       id,
		fn:       fn,
		dueTick:  l.tick + delayTicks,
		interval: intervalTicks,
	}
	return id
}

// Cancel removes a scheduled task. Cancelling an unknown or already-fired
// one-shot id is a no-op.
func (l *Loop) Cancel(id TaskID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tasks, id)
}

// RunOnLoop enqueues fn onto the relay queue. It is safe to call from any
// goroutine; fn runs on the loop during a later tick. At most DrainPerTick
// relayed callbacks run per tick, which bounds per-tick latency under
// bursty inbound load.
func (l *Loop) RunOnLoop(fn func()) {
	l.mu.Lock()
	l.relay = append(l.relay, fn)
	l.mu.Unlock()
}

// Go runs fn on a background goroutine; if fn returns a non-nil
// continuation, the continuation is relayed back onto the loop. This is the
// only sanctioned way to call a blocking collaborator from loop code.
func (l *Loop) Go(fn func() func()) {
	go func() {
		cont := fn()
		if cont != nil {
			l.RunOnLoop(cont)
		}
	}()
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()
	l.logger.Info().Dur("tick_interval", l.tickInterval).Int("drain_per_tick", l.drainPerTick).Msg("main loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("main loop stopped")
			return
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick advances the loop by one tick: it drains up to DrainPerTick relayed
// callbacks, then runs every due scheduled task. Exported so tests can step
// the loop deterministically.
func (l *Loop) Tick() {
	l.mu.Lock()
	l.tick++

	n := l.drainPerTick
	if n > len(l.relay) {
		n = len(l.relay)
	}
	relayed := make([]func(), n)
	copy(relayed, l.relay[:n])
	l.relay = l.relay[n:]

	var due []*task
	for _, t := range l.tasks {
		if t.dueTick <= l.tick {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].id < due[j].id })
	for _, t := range due {
		if t.interval > 0 {
			t.dueTick = l.tick + t.interval
		} else {
			delete(l.tasks, t.id)
		}
	}
	l.mu.Unlock()

	for _, fn := range relayed {
		fn()
	}
	for _, t := range due {
		if t.interval == 0 {
			t.fn()
			continue
		}
		// A repeating task may have been cancelled by an earlier callback
		// in this same tick.
		l.mu.Lock()
		_, alive := l.tasks[t.id]
		l.mu.Unlock()
		if alive {
			t.fn()
		}
	}
}

// PendingRelayed reports the number of callbacks waiting on the relay queue.
func (l *Loop) PendingRelayed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.relay)
}
