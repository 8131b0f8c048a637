// Package classify implements the Classifier contract (C3): map a message's
// subject/body/from to a Category, with a deterministic keyword fallback
// whenever a remote model is absent, errors, or returns an unrecognized
// label.
package classify

import (
	"context"
	"strings"

	"github.com/onemail/sync-core/internal/domain"
)

const (
	maxSubjectRunes = 500
	maxBodyRunes    = 4000
)

// Input is the truncated-before-call shape the remote model and fallback
// both operate on.
type Input struct {
	Subject string
	Body    string
	From    string
}

// RemoteModel is the pluggable, out-of-scope language model port. Classify
// never lets an error or unrecognized answer from this port escape — it
// always collapses to the deterministic fallback.
type RemoteModel interface {
	Classify(ctx context.Context, in Input) (string, error)
}

// Classifier implements the Classifier contract (spec.md §4.3 / C3).
type Classifier struct {
	remote RemoteModel
}

// New wires a remote model. NewDeterministic (below) skips it entirely.
func New(remote RemoteModel) *Classifier {
	return &Classifier{remote: remote}
}

// NewDeterministic returns a Classifier with no remote model wired, so every
// call resolves via the keyword fallback alone. This is what spec.md §8's
// "fallback determinism" property exercises.
func NewDeterministic() *Classifier {
	return &Classifier{}
}

// Classify always returns a Category; it never propagates an error (spec.md
// §4.3 rule 5 — a remote error collapses to the fallback).
func (c *Classifier) Classify(ctx context.Context, in Input) domain.Category {
	truncated := Input{
		Subject: truncateRunes(in.Subject, maxSubjectRunes),
		Body:    truncateRunes(in.Body, maxBodyRunes),
		From:    in.From,
	}

	if c.remote != nil {
		if label, err := c.remote.Classify(ctx, truncated); err == nil {
			if cat, ok := domain.ParseCategory(label); ok {
				return cat
			}
		}
	}

	return fallback(truncated)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// fallback applies the fixed keyword priority order: Spam, OutOfOffice,
// MeetingBooked, NotInterested, Interested; Uncategorized if nothing
// matches. Keyword sets are a fixed part of spec.md §6.
func fallback(in Input) domain.Category {
	text := strings.ToLower(in.Subject + " " + in.Body)

	for _, group := range keywordPriority {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				return group.category
			}
		}
	}
	return domain.CategoryUncategorized
}
