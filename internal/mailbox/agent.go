// Package mailbox implements MailboxAgent (C4): the per-(user,mailbox)
// supervisor that owns one IMAP connection, drives backfill + IDLE, and
// feeds every observed message through the ingestion pipeline.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onemail/sync-core/internal/credential"
	"github.com/onemail/sync-core/internal/domain"
	"github.com/onemail/sync-core/internal/eventbus"
	"github.com/onemail/sync-core/internal/ingest"
)

// Config carries the knobs spec.md §6 fixes for every agent.
type Config struct {
	BackfillWindow time.Duration
	IdleMax        time.Duration
	ConnectTimeout time.Duration
	FetchTimeout   time.Duration
	RetryBase      time.Duration
	RetryCap       time.Duration
}

const pipelineCallTimeout = 30 * time.Second

// Agent is the MailboxAgent state machine (spec.md §4.4). One Agent exists
// per AccountKey for as long as Supervisor holds it; the IMAP connection it
// opens is owned solely by the goroutine running Run.
type Agent struct {
	key        domain.AccountKey
	dialer     Dialer
	creds      credential.Store
	pipeline   *ingest.Pipeline
	bus        *eventbus.Bus
	cfg        Config
	logger     *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	mu    sync.RWMutex
	state domain.AgentState
}

func NewAgent(key domain.AccountKey, dialer Dialer, creds credential.Store, pipeline *ingest.Pipeline, bus *eventbus.Bus, cfg Config, logger *slog.Logger) *Agent {
	return &Agent{
		key:      key,
		dialer:   dialer,
		creds:    creds,
		pipeline: pipeline,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With("userId", key.UserID, "email", key.Email),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		state:    domain.StateStarting(),
	}
}

// State returns the current snapshot. Safe for concurrent use, including
// from Supervisor.Status while Run is executing in its own goroutine.
func (a *Agent) State() domain.AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Stop is always safe to call, any number of times, from any state
// including before Run has started (spec.md §4.4, "Stop is always safe").
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Done closes once Run has returned.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Run drives the full state machine until Stop is called or ctx is
// cancelled. It must be started in its own goroutine by Supervisor.
func (a *Agent) Run(ctx context.Context) {
	defer close(a.done)

	attempt := 0
	for {
		if a.stopRequested(ctx) {
			a.transition(ctx, domain.StateStopped())
			return
		}

		a.transition(ctx, domain.StateStarting())
		err := a.runOnce(ctx, func() { attempt = 0 })
		if err == nil {
			a.transition(ctx, domain.StateStopped())
			return
		}
		if a.stopRequested(ctx) {
			a.transition(ctx, domain.StateStopped())
			return
		}

		attempt++
		a.transition(ctx, domain.StateError(err.Error()))
		delay := backoffDelay(a.cfg.RetryBase, a.cfg.RetryCap, attempt)
		a.logger.Warn("mailbox: recovering after error", "err", err, "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			a.transition(ctx, domain.StateStopped())
			return
		case <-a.stopCh:
			a.transition(ctx, domain.StateStopped())
			return
		case <-time.After(delay):
		}
	}
}

func (a *Agent) stopRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

// runOnce dials once, backfills, and idles until the connection drops, Stop
// is called, or ctx is cancelled. A nil return means the agent was asked to
// stop cleanly; a non-nil return means the connection failed and Run should
// back off and retry. onIdle is called exactly once, the first time this
// connection cycle reaches Idle, so Run can reset its backoff attempt
// counter on a successful re-entry (spec.md §4.4 step 5).
func (a *Agent) runOnce(ctx context.Context, onIdle func()) error {
	cred, outcome := a.creds.GetFresh(ctx, a.key)
	switch outcome {
	case credential.Fresh:
	case credential.NotAuthorized:
		return fmt.Errorf("mailbox: credential not authorized")
	default:
		return fmt.Errorf("mailbox: credential unavailable")
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	session, err := a.dialer.Dial(dialCtx, a.key, cred)
	cancel()
	if err != nil {
		return fmt.Errorf("mailbox: dial: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = session.Close(closeCtx)
	}()

	a.transition(ctx, domain.StateSyncing())
	if err := a.backfill(ctx, session); err != nil {
		return fmt.Errorf("mailbox: backfill: %w", err)
	}

	return a.idleLoop(ctx, session, onIdle)
}

func (a *Agent) backfill(ctx context.Context, session Session) error {
	since := time.Now().Add(-a.cfg.BackfillWindow)

	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	msgs, err := session.Backfill(fetchCtx, since)
	cancel()
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		a.ingestOne(ctx, msg)
	}
	return nil
}

// idleLoop multiplexes unilateral EXISTS growth, the agent's own idle
// error, a 28-minute forced keepalive cycle (spec.md §4.4 step 4), and an
// external Stop/ctx cancellation. It returns nil only on a clean stop.
// onIdle fires once, on the first entry to Idle in this call.
func (a *Agent) idleLoop(ctx context.Context, session Session, onIdle func()) error {
	keepalive := time.NewTicker(a.cfg.IdleMax)
	defer keepalive.Stop()

	first := true
	for {
		a.transition(ctx, domain.StateIdle())
		if first {
			onIdle()
			first = false
		}

		updates, idleErr, stop := session.Idle(ctx)

		select {
		case <-ctx.Done():
			stop()
			return nil
		case <-a.stopCh:
			stop()
			return nil
		case err := <-idleErr:
			stop()
			if err != nil {
				return fmt.Errorf("mailbox: idle: %w", err)
			}
			// Server ended IDLE on its own (e.g. timeout); reconnect.
			return errors.New("mailbox: idle ended by server")
		case n := <-updates:
			stop()
			a.transition(ctx, domain.StateSyncing())
			if err := a.drainNew(ctx, session, n); err != nil {
				return err
			}
		case <-keepalive.C:
			stop()
			noopCtx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
			err := session.Noop(noopCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("mailbox: keepalive noop: %w", err)
			}
		}
	}
}

func (a *Agent) drainNew(ctx context.Context, session Session, n int) error {
	if n <= 0 {
		n = 1
	}
	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	msgs, err := session.FetchNewest(fetchCtx, n)
	cancel()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		a.ingestOne(ctx, msg)
	}
	return nil
}

// ingestOne bounds a single pipeline call to 30s and abandons it without a
// state transition if it overruns (spec.md §4.4, per-message abandonment).
func (a *Agent) ingestOne(ctx context.Context, raw domain.RawMessage) {
	callCtx, cancel := context.WithTimeout(ctx, pipelineCallTimeout)
	defer cancel()

	outcome := a.pipeline.Ingest(callCtx, a.key, "INBOX", raw)
	if outcome == ingest.Abandoned {
		a.logger.Warn("mailbox: message abandoned by pipeline", "uid", raw.UID)
	}
}

func (a *Agent) transition(ctx context.Context, state domain.AgentState) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()

	if a.bus == nil {
		return
	}
	a.bus.PublishStatus(ctx, domain.StatusEvent{
		UserID: a.key.UserID,
		Email:  a.key.Email,
		State:  state,
		At:     time.Now().UTC(),
	})
}
