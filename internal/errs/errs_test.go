package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heavyforge/heavyforge/internal/errs"
)

func TestNewAppliesDefaultRetriability(t *testing.T) {
	cases := []struct {
		kind      errs.Kind
		retriable bool
	}{
		{errs.Validation, false},
		{errs.Auth, false},
		{errs.Permission, false},
		{errs.NotFound, false},
		{errs.Conflict, false},
		{errs.RateLimit, true},
		{errs.Timeout, true},
		{errs.Capacity, false},
		{errs.Provider, false},
		{errs.Internal, false},
	}
	for _, c := range cases {
		e := errs.New(c.kind, "boom")
		assert.Equal(t, c.retriable, e.Retriable, "kind=%s", c.kind)
		assert.NotEmpty(t, e.UserMessage)
	}
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("network reset")
	e := errs.Wrap(errs.Provider, cause, "vendor call failed")

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "network reset")
}

func TestWithRetriableOverridesDefault(t *testing.T) {
	e := errs.New(errs.Capacity, "no_eligible_model").WithRetriable(true)
	assert.True(t, e.Retriable)
	assert.True(t, errs.IsRetriable(e))
}

func TestAsAndKindOfUnwrapWrappedErrors(t *testing.T) {
	e := errs.New(errs.NotFound, "no such agent")
	wrapped := fmt.Errorf("lookup failed: %w", e)

	got, ok := errs.As(wrapped)
	require := assert.New(t)
	require.True(ok)
	require.Equal(errs.NotFound, got.Kind)
	require.Equal(errs.NotFound, errs.KindOf(wrapped))
}

func TestKindOfNonTaxonomyErrorIsInternal(t *testing.T) {
	assert.Equal(t, errs.Internal, errs.KindOf(errors.New("plain error")))
	assert.False(t, errs.IsRetriable(errors.New("plain error")))
}

func TestWithUserMessageDetailsSuggestionsRetryAfter(t *testing.T) {
	e := errs.New(errs.RateLimit, "too many requests").
		WithUserMessage("slow down").
		WithDetails(map[string]any{"provider": "openai"}).
		WithSuggestions("retry later").
		WithRetryAfter(1500)

	assert.Equal(t, "slow down", e.UserMessage)
	assert.Equal(t, "openai", e.Details["provider"])
	assert.Equal(t, []string{"retry later"}, e.Suggestions)
	assert.EqualValues(t, 1500, e.RetryAfterMS)
}
