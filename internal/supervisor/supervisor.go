// Package supervisor implements the Supervisor (C5): a registry holding at
// most one running MailboxAgent per AccountKey, generalized from the
// teacher's per-user cell registry (sync.Map + LoadOrStore keyed actors) to
// this spec's per-account agent supervision contract.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onemail/sync-core/internal/credential"
	"github.com/onemail/sync-core/internal/domain"
	"github.com/onemail/sync-core/internal/eventbus"
	"github.com/onemail/sync-core/internal/ingest"
	"github.com/onemail/sync-core/internal/mailbox"
)

// ErrAlreadyRunning is returned by Start when an agent for the key already
// exists in any non-Stopped state (spec.md §4.5, §8 "Start(k); Start(k) →
// second returns AlreadyRunning").
var ErrAlreadyRunning = errors.New("supervisor: agent already running")

// handle pairs a running agent with the cancel func for its Run context.
type handle struct {
	agent  *mailbox.Agent
	cancel context.CancelFunc
}

// Supervisor is the Supervisor contract (spec.md §4.5 / C5). The zero value
// is not usable; construct with New.
type Supervisor struct {
	dialer   mailbox.Dialer
	creds    credential.Store
	pipeline *ingest.Pipeline
	bus      *eventbus.Bus
	agentCfg mailbox.Config
	logger   *slog.Logger

	shutdownDeadline time.Duration

	mu     sync.Mutex // guards Start/Stop linearization per key
	agents sync.Map   // domain.AccountKey -> *handle
}

func New(
	dialer mailbox.Dialer,
	creds credential.Store,
	pipeline *ingest.Pipeline,
	bus *eventbus.Bus,
	agentCfg mailbox.Config,
	shutdownDeadline time.Duration,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		dialer:           dialer,
		creds:            creds,
		pipeline:         pipeline,
		bus:              bus,
		agentCfg:         agentCfg,
		shutdownDeadline: shutdownDeadline,
		logger:           logger,
	}
}

// Start launches an agent for key. Calling it again for a key that already
// has a registered agent leaves that agent untouched and returns
// ErrAlreadyRunning (spec.md §3 invariant 1, "at most one agent per
// AccountKey").
func (s *Supervisor) Start(ctx context.Context, key domain.AccountKey) error {
	if !key.Valid() {
		return fmt.Errorf("supervisor: invalid account key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents.Load(key); exists {
		return ErrAlreadyRunning
	}

	agentCtx, cancel := context.WithCancel(context.Background())
	agent := mailbox.NewAgent(key, s.dialer, s.creds, s.pipeline, s.bus, s.agentCfg, s.logger)

	h := &handle{agent: agent, cancel: cancel}
	s.agents.Store(key, h)

	go agent.Run(agentCtx)
	return nil
}

// Stop cancels the agent for key and waits for it to exit. Calling Stop for
// a key with no running agent, or calling it twice, is always safe.
func (s *Supervisor) Stop(ctx context.Context, key domain.AccountKey) error {
	s.mu.Lock()
	v, exists := s.agents.Load(key)
	if !exists {
		s.mu.Unlock()
		return nil
	}
	s.agents.Delete(key)
	s.mu.Unlock()

	h := v.(*handle)
	h.agent.Stop()
	h.cancel()

	select {
	case <-h.agent.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every running agent concurrently and waits for all of them.
func (s *Supervisor) StopAll(ctx context.Context) error {
	keys := s.keys()

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return s.Stop(gctx, key)
		})
	}
	return g.Wait()
}

// StopForUser stops every agent belonging to userID. SessionHub calls this
// when a user's last WebSocket session closes (spec.md §4.7).
func (s *Supervisor) StopForUser(ctx context.Context, userID string) error {
	var keys []domain.AccountKey
	for _, key := range s.keys() {
		if key.UserID == userID {
			keys = append(keys, key)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return s.Stop(gctx, key)
		})
	}
	return g.Wait()
}

// Status reports the latest known AgentState for key, or false if no agent
// is registered for it.
func (s *Supervisor) Status(key domain.AccountKey) (domain.AgentState, bool) {
	v, ok := s.agents.Load(key)
	if !ok {
		return domain.AgentState{}, false
	}
	return v.(*handle).agent.State(), true
}

// StatusForUser implements spec.md §4.5's Status(userId) → [AgentState per
// email]: every currently registered agent belonging to userID, keyed by
// email.
func (s *Supervisor) StatusForUser(userID string) map[string]domain.AgentState {
	out := make(map[string]domain.AgentState)
	s.agents.Range(func(k, v any) bool {
		key := k.(domain.AccountKey)
		if key.UserID == userID {
			out[key.Email] = v.(*handle).agent.State()
		}
		return true
	})
	return out
}

// StatusAll snapshots every currently registered agent.
func (s *Supervisor) StatusAll() map[domain.AccountKey]domain.AgentState {
	out := make(map[domain.AccountKey]domain.AgentState)
	s.agents.Range(func(k, v any) bool {
		out[k.(domain.AccountKey)] = v.(*handle).agent.State()
		return true
	})
	return out
}

// RestartAll stops and restarts every currently registered agent, one at a
// time: Stop, wait for termination, sleep 2s, Start. A failure on either
// step is logged but does not abort the loop (spec.md §4.5).
func (s *Supervisor) RestartAll(ctx context.Context) error {
	for _, key := range s.keys() {
		if err := s.Stop(ctx, key); err != nil {
			s.logger.Warn("supervisor: restartAll stop failed", "key", key.String(), "err", err)
			continue
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := s.Start(ctx, key); err != nil {
			s.logger.Warn("supervisor: restartAll start failed", "key", key.String(), "err", err)
		}
	}
	return nil
}

// EnsureForUser starts an agent for every email the CredentialStore reports
// for userID that isn't already running, and is a no-op for ones that are.
func (s *Supervisor) EnsureForUser(ctx context.Context, userID string) error {
	emails, err := s.creds.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("supervisor: list credentials: %w", err)
	}
	for _, email := range emails {
		err := s.Start(ctx, domain.NewAccountKey(userID, email))
		if err != nil && !errors.Is(err, ErrAlreadyRunning) {
			return err
		}
	}
	return nil
}

// Shutdown stops every agent within the configured deadline. Agents still
// running past the deadline are abandoned (their goroutines will still
// observe the cancelled context and exit, but Shutdown does not wait for
// them) so process exit is never blocked indefinitely (spec.md §4.5).
func (s *Supervisor) Shutdown(ctx context.Context) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, s.shutdownDeadline)
	defer cancel()

	err := s.StopAll(deadlineCtx)
	if err != nil {
		s.logger.Warn("supervisor: shutdown deadline exceeded, abandoning remaining agents", "err", err)
	}
	return err
}

func (s *Supervisor) keys() []domain.AccountKey {
	var keys []domain.AccountKey
	s.agents.Range(func(k, v any) bool {
		keys = append(keys, k.(domain.AccountKey))
		return true
	})
	return keys
}
