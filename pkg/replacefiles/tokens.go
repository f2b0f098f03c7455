package replacefiles

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Token purposes
const (
	PurposeOverrideStatus = "replace_file_override_status"
	PurposeSubmitApproval = "replace_file_submit_approval"
)

// DefaultTokenTTL is how long an unused token stays valid
const DefaultTokenTTL = 24 * time.Hour

// Tokens issues and verifies single-use tokens bound to a purpose and a user
type Tokens struct {
	store TokenStore
	ttl   time.Duration
}

// NewTokens creates a token issuer backed by store
func NewTokens(store TokenStore, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{store: store, ttl: ttl}
}

// Issue creates a token for purpose, usable once by userID
func (t *Tokens) Issue(ctx context.Context, purpose string, userID int64) (string, error) {
	token := uuid.NewString()
	if err := t.store.Put(ctx, token, binding(purpose, userID), t.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Verify consumes token and reports whether it was issued for purpose and userID.
// A token is spent by the first Verify call whatever the outcome.
func (t *Tokens) Verify(ctx context.Context, token, purpose string, userID int64) (bool, error) {
	if token == "" {
		return false, nil
	}
	bound, err := t.store.Consume(ctx, token)
	if errors.Is(err, ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bound == binding(purpose, userID), nil
}

func binding(purpose string, userID int64) string {
	return purpose + ":" + strconv.FormatInt(userID, 10)
}
