package replacefiles

import (
	"context"
	"log/slog"
)

// TokenVerifier checks a single-use token
type TokenVerifier interface {
	Verify(ctx context.Context, token, purpose string, userID int64) (bool, error)
}

// OverrideRequest carries the request context the override is decided on
type OverrideRequest struct {
	Caller Caller
	Token  string
}

// StatusOverride is the privileged write that marks a freshly inserted
// attachment as a replacement draft. The generic insert path only accepts
// the allow-listed statuses, so Apply must run after NormalizeInsertStatus.
type StatusOverride struct {
	tokens TokenVerifier
	logger *slog.Logger
}

// NewStatusOverride creates a StatusOverride that checks tokens with verifier
func NewStatusOverride(verifier TokenVerifier, logger *slog.Logger) *StatusOverride {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusOverride{tokens: verifier, logger: logger}
}

// Apply returns fields with status set to replace-pending when the caller is
// in an admin context, holds upload_files and presents a valid token for
// PurposeOverrideStatus. Otherwise fields are returned unchanged.
func (o *StatusOverride) Apply(ctx context.Context, req OverrideRequest, fields FieldSet) FieldSet {
	if !req.Caller.Admin || !req.Caller.Can(CapUploadFiles) || req.Token == "" {
		return fields
	}

	ok, err := o.tokens.Verify(ctx, req.Token, PurposeOverrideStatus, req.Caller.UserID)
	if err != nil {
		o.logger.WarnContext(ctx, "status override token check failed", "user_id", req.Caller.UserID, "error", err)
		return fields
	}
	if !ok {
		return fields
	}

	fields[FieldStatus] = string(StatusReplacePending)
	return fields
}
