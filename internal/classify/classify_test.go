package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onemail/sync-core/internal/domain"
)

func TestClassify_FallbackDeterminism(t *testing.T) {
	c := NewDeterministic()
	in := Input{Subject: "Re: let's do a quick call", Body: "sounds good, schedule it"}

	first := c.Classify(context.Background(), in)
	second := c.Classify(context.Background(), in)
	assert.Equal(t, first, second, "classifying the same input twice must be deterministic")
}

func TestClassify_KeywordPriorityOrder(t *testing.T) {
	c := NewDeterministic()

	// Contains both a meeting keyword and a spam keyword: spam must win,
	// since it is earlier in the fixed priority order.
	cat := c.Classify(context.Background(), Input{
		Subject: "Limited time offer",
		Body:    "let's schedule a call",
	})
	assert.Equal(t, domain.CategorySpam, cat)
}

func TestClassify_NoMatchFallsBackToUncategorized(t *testing.T) {
	c := NewDeterministic()
	cat := c.Classify(context.Background(), Input{Subject: "hello", Body: "just checking in"})
	assert.Equal(t, domain.CategoryUncategorized, cat)
}

type stubRemote struct {
	label string
	err   error
}

func (s stubRemote) Classify(ctx context.Context, in Input) (string, error) {
	return s.label, s.err
}

func TestClassify_RemoteErrorCollapsesToFallback(t *testing.T) {
	c := New(stubRemote{err: assertErr{}})
	cat := c.Classify(context.Background(), Input{Subject: "unsubscribe now", Body: ""})
	assert.Equal(t, domain.CategorySpam, cat)
}

func TestClassify_UnrecognizedRemoteLabelCollapsesToFallback(t *testing.T) {
	c := New(stubRemote{label: "not a real category"})
	cat := c.Classify(context.Background(), Input{Subject: "vacation auto-reply", Body: ""})
	assert.Equal(t, domain.CategoryOutOfOffice, cat)
}

func TestClassify_RemoteLabelWinsWhenRecognized(t *testing.T) {
	c := New(stubRemote{label: "Interested"})
	cat := c.Classify(context.Background(), Input{Subject: "unsubscribe", Body: ""})
	require.Equal(t, domain.CategoryInterested, cat)
}

type assertErr struct{}

func (assertErr) Error() string { return "remote model unavailable" }
