package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// TurnRunner produces the text to deliver for a job, normally by running a
// full agent turn with the job's message as the user text.
type TurnRunner func(ctx context.Context, jid, message string) (string, error)

// Sender delivers text to a chat over the transport that owns its jid.
type Sender func(jid, text string) error

// retryDelays is the backoff between delivery attempts.
var retryDelays = []time.Duration{5 * time.Second, 15 * time.Second}

// Engine arms timers for stored jobs and executes them.
type Engine struct {
	store  *Store
	runner TurnRunner
	sender Sender

	mu      sync.Mutex
	timers  map[string]*time.Timer
	cancels map[string]context.CancelFunc // recurring loops
	ctx     context.Context
	wg      sync.WaitGroup

	now func() time.Time // test hook
}

// NewEngine wires the engine. runner and sender may be set later via
// SetRunner/SetSender but must be non-nil before Start.
func NewEngine(store *Store) *Engine {
	return &Engine{
		store:   store,
		timers:  make(map[string]*time.Timer),
		cancels: make(map[string]context.CancelFunc),
		now:     time.Now,
	}
}

// SetRunner installs the agent-turn runner.
func (e *Engine) SetRunner(r TurnRunner) { e.runner = r }

// SetSender installs the transport sender.
func (e *Engine) SetSender(s Sender) { e.sender = s }

// Start arms every stored job. Claimed one-shots are skipped outright;
// overdue one-shots run immediately and sequentially before timers arm.
func (e *Engine) Start(ctx context.Context) error {
	if e.runner == nil || e.sender == nil {
		return fmt.Errorf("cron engine started without runner or sender")
	}
	e.ctx = ctx

	now := e.now()
	var overdue []Job
	for _, job := range e.store.Jobs() {
		if !job.Enabled {
			continue
		}
		switch job.Schedule.Kind {
		case KindOneShot:
			if job.Claimed() {
				slog.Info("cron: skipping claimed one-shot", "id", job.ID, "name", job.Name)
				continue
			}
			if job.Due(now) {
				overdue = append(overdue, job)
			} else {
				e.armOneShot(job)
			}
		case KindRecurring:
			e.startRecurring(job)
		default:
			slog.Warn("cron: unknown schedule kind", "id", job.ID, "kind", job.Schedule.Kind)
		}
	}

	for _, job := range overdue {
		e.runOneShot(job)
	}
	return nil
}

// Wait blocks until all in-flight job executions finish.
func (e *Engine) Wait() { e.wg.Wait() }

// ScheduleOneShot persists a new one-shot and arms its timer. Jobs already
// due fire on a goroutine rather than blocking the caller.
func (e *Engine) ScheduleOneShot(job Job) error {
	job.Schedule.Kind = KindOneShot
	job.Enabled = true
	if job.Schedule.At <= 0 {
		return fmt.Errorf("one-shot job %q has no time", job.Name)
	}
	if err := e.store.Add(job); err != nil {
		return err
	}
	if job.Due(e.now()) {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runOneShot(job)
		}()
		return nil
	}
	e.armOneShot(job)
	return nil
}

// AddRecurring persists a new recurring job and starts its tick loop.
func (e *Engine) AddRecurring(job Job) error {
	job.Schedule.Kind = KindRecurring
	job.Enabled = true
	if err := ValidateExpr(job.Schedule.Expr); err != nil {
		return err
	}
	if err := e.store.Add(job); err != nil {
		return err
	}
	e.startRecurring(job)
	return nil
}

// Jobs lists the stored jobs.
func (e *Engine) Jobs() []Job { return e.store.Jobs() }

// Cancel disarms and removes a job. Returns false when the id is unknown.
func (e *Engine) Cancel(id string) (bool, error) {
	e.mu.Lock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
	if cancel, ok := e.cancels[id]; ok {
		cancel()
		delete(e.cancels, id)
	}
	e.mu.Unlock()
	return e.store.Remove(id)
}

func (e *Engine) armOneShot(job Job) {
	delay := time.UnixMilli(job.Schedule.At).Sub(e.now())
	if delay < 0 {
		delay = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timers[job.ID] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, job.ID)
		e.mu.Unlock()
		e.wg.Add(1)
		defer e.wg.Done()
		// re-read: the job may have been cancelled or claimed meanwhile
		current, ok := e.store.Get(job.ID)
		if !ok || current.Claimed() {
			return
		}
		e.runOneShot(current)
	})
}

// runOneShot claims the job before the first attempt, so a crash between
// claim and send costs the reminder rather than duplicating it.
func (e *Engine) runOneShot(job Job) {
	claimed := e.now().UnixMilli()
	err := e.store.Update(job.ID, func(j *Job) { j.SentAtMs = &claimed })
	if err != nil {
		slog.Error("cron: cannot claim one-shot, refusing to run", "id", job.ID, "error", err)
		return
	}
	if err := e.deliver(job); err != nil {
		// claimed but failed: the apology is the user-visible outcome and
		// the mark keeps any restart from re-sending
		slog.Error("cron: one-shot failed after retries", "id", job.ID, "name", job.Name, "error", err)
		e.apologize(job, err)
		return
	}
	if _, err := e.store.Remove(job.ID); err != nil {
		slog.Warn("cron: delivered one-shot not removed", "id", job.ID, "error", err)
	}
}

func (e *Engine) startRecurring(job Job) {
	ctx, cancel := context.WithCancel(e.baseCtx())
	e.mu.Lock()
	e.cancels[job.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			next, err := gronx.NextTickAfter(job.Schedule.Expr, e.now().In(job.Location()), false)
			if err != nil {
				slog.Error("cron: bad recurring expression", "id", job.ID, "expr", job.Schedule.Expr, "error", err)
				return
			}
			timer := time.NewTimer(next.Sub(e.now()))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if current, ok := e.store.Get(job.ID); !ok || !current.Enabled {
				return
			}
			if err := e.deliver(job); err != nil {
				slog.Error("cron: recurring tick failed after retries", "id", job.ID, "error", err)
				e.apologize(job, err)
			}
		}
	}()
}

func (e *Engine) baseCtx() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

// deliver runs the agent turn and sends the result, retrying per the
// backoff schedule.
func (e *Engine) deliver(job Job) error {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-e.baseCtx().Done():
				return lastErr
			case <-time.After(retryDelays[attempt-1]):
			}
		}
		lastErr = e.attempt(job)
		if lastErr == nil {
			return nil
		}
		slog.Warn("cron: delivery attempt failed", "id", job.ID, "attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

func (e *Engine) attempt(job Job) error {
	ctx, cancel := context.WithTimeout(e.baseCtx(), 2*time.Minute)
	defer cancel()
	text, err := e.runner(ctx, job.JID, job.Message)
	if err != nil {
		return fmt.Errorf("run turn: %w", err)
	}
	if text == "" {
		return fmt.Errorf("turn produced empty reply")
	}
	if err := e.sender(job.JID, text); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// apologize sends the best-effort failure notice.
func (e *Engine) apologize(job Job, cause error) {
	msg := fmt.Sprintf("[Bot] Moo — reminder '%s' didn't go through: %v", job.Name, cause)
	if err := e.sender(job.JID, msg); err != nil {
		slog.Warn("cron: apology not delivered", "id", job.ID, "error", err)
	}
}
