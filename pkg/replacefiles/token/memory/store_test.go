package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/replace-files/pkg/replacefiles"
)

func TestStore_ConsumeOnce(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tok", "purpose:7", time.Minute))

	binding, err := store.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "purpose:7", binding)

	_, err = store.Consume(ctx, "tok")
	assert.ErrorIs(t, err, replacefiles.ErrTokenNotFound)
}

func TestStore_Expiry(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	store := New()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old", "a", time.Minute))
	now = now.Add(2 * time.Minute)

	_, err := store.Consume(ctx, "old")
	assert.ErrorIs(t, err, replacefiles.ErrTokenNotFound)

	require.NoError(t, store.Put(ctx, "stale", "b", time.Second))
	now = now.Add(time.Minute)
	require.NoError(t, store.Put(ctx, "fresh", "c", time.Minute))
	assert.Equal(t, 1, store.Len(), "expired tokens are swept on Put")
}

func TestStore_UnknownToken(t *testing.T) {
	_, err := New().Consume(context.Background(), "nope")
	assert.ErrorIs(t, err, replacefiles.ErrTokenNotFound)
}

func TestStore_WithTokens(t *testing.T) {
	tokens := replacefiles.NewTokens(New(), time.Minute)
	ctx := context.Background()

	token, err := tokens.Issue(ctx, replacefiles.PurposeOverrideStatus, 7)
	require.NoError(t, err)

	ok, err := tokens.Verify(ctx, token, replacefiles.PurposeSubmitApproval, 7)
	require.NoError(t, err)
	assert.False(t, ok, "wrong purpose")

	ok, err = tokens.Verify(ctx, token, replacefiles.PurposeOverrideStatus, 7)
	require.NoError(t, err)
	assert.False(t, ok, "a failed check still spends the token")

	token, err = tokens.Issue(ctx, replacefiles.PurposeOverrideStatus, 7)
	require.NoError(t, err)
	ok, err = tokens.Verify(ctx, token, replacefiles.PurposeOverrideStatus, 8)
	require.NoError(t, err)
	assert.False(t, ok, "wrong user")

	token, err = tokens.Issue(ctx, replacefiles.PurposeOverrideStatus, 7)
	require.NoError(t, err)
	ok, err = tokens.Verify(ctx, token, replacefiles.PurposeOverrideStatus, 7)
	require.NoError(t, err)
	assert.True(t, ok)
}

var _ replacefiles.TokenStore = (*Store)(nil)
