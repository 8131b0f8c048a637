// Package ingest implements the IngestionPipeline (C6): dedupe against the
// index, classify, insert, and publish a NewMessageEvent exactly once per
// successfully-inserted message.
package ingest

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/onemail/sync-core/internal/classify"
	"github.com/onemail/sync-core/internal/domain"
	"github.com/onemail/sync-core/internal/eventbus"
	"github.com/onemail/sync-core/internal/index"
)

// retryDelays is the fixed exponential ladder from spec.md §4.6 step 5.
var retryDelays = []time.Duration{200 * time.Millisecond, 800 * time.Millisecond, 3 * time.Second}

// Pipeline is stateless; it is safe to share across every MailboxAgent.
// Parallelism is bounded per agent (each agent calls it serially) but
// unbounded across agents.
type Pipeline struct {
	index      index.Index
	classifier *classify.Classifier
	bus        *eventbus.Bus
	logger     *slog.Logger
	sleep      func(time.Duration)
}

func New(idx index.Index, classifier *classify.Classifier, bus *eventbus.Bus, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		index:      idx,
		classifier: classifier,
		bus:        bus,
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// Outcome describes what happened to one raw message, for agent-level
// counters; it carries no error — message-processing failures are never
// surfaced to the client (spec.md §7).
type Outcome int8

const (
	Inserted Outcome = iota + 1
	Duplicate
	Abandoned
)

// Ingest implements spec.md §4.6 steps 1-5 for a single RawMessage.
func (p *Pipeline) Ingest(ctx context.Context, key domain.AccountKey, folder string, raw domain.RawMessage) Outcome {
	id := domain.MessageID(key, raw.UID)

	exists, err := p.index.Exists(ctx, id)
	if err != nil {
		p.logger.Warn("ingest: exists check failed, treating as not found", "id", id, "err", err)
	} else if exists {
		return Duplicate
	}

	now := time.Now().UTC()
	body := decodeBody(raw.SourceBytes)

	category := p.classifier.Classify(ctx, classify.Input{
		Subject: raw.Subject,
		Body:    body,
		From:    raw.From,
	})

	msg := domain.StoredMessage{
		ID:        id,
		UserID:    key.UserID,
		Email:     key.Email,
		Folder:    folder,
		UID:       raw.UID,
		Subject:   raw.Subject,
		From:      raw.From,
		To:        raw.To,
		Date:      raw.Date,
		Body:      body,
		IsRead:    false,
		IsStarred: false,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}

	outcome, ok := p.insertWithRetry(ctx, msg)
	if !ok {
		return Abandoned
	}
	switch outcome {
	case index.Conflict:
		return Duplicate
	case index.OK:
		p.bus.PublishNewMessage(ctx, domain.NewMessageEvent{
			UserID:  key.UserID,
			Message: msg,
			At:      now,
		})
		return Inserted
	default:
		return Abandoned
	}
}

// insertWithRetry retries only on Transient, following the fixed ladder in
// spec.md §4.6 step 5. The bool return is false once retries are exhausted.
func (p *Pipeline) insertWithRetry(ctx context.Context, msg domain.StoredMessage) (index.Outcome, bool) {
	var last index.Outcome
	for attempt := 0; ; attempt++ {
		outcome, err := p.index.Insert(ctx, msg)
		if err != nil {
			p.logger.Warn("ingest: insert error, treating as transient", "id", msg.ID, "err", err)
			outcome = index.Transient
		}
		last = outcome
		if outcome != index.Transient {
			return outcome, true
		}
		if attempt >= len(retryDelays) {
			p.logger.Error("ingest: abandoning message after retry exhaustion", "id", msg.ID)
			return last, false
		}
		select {
		case <-ctx.Done():
			return last, false
		default:
		}
		p.sleep(retryDelays[attempt])
	}
}

// decodeBody decodes source bytes as UTF-8, substituting the replacement
// character for invalid sequences, per spec.md §4.6 step 3.
func decodeBody(src []byte) string {
	if utf8.Valid(src) {
		return string(src)
	}
	out := make([]rune, 0, len(src))
	for len(src) > 0 {
		r, size := utf8.DecodeRune(src)
		out = append(out, r)
		src = src[size:]
	}
	return string(out)
}
