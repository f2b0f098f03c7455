package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/replace-files/pkg/replacefiles"
)

func TestValidatorUsesJSONNames(t *testing.T) {
	v := NewValidator()

	err := v.Validate(uploadPageRequest{Action: "delete"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("id"))
	assert.True(t, verr.Has("action"))
	assert.False(t, verr.Has("new-id"))
	assert.Equal(t, "validation failed: field 'action': must be one of: submit-approval; field 'id': is required", verr.Error())

	assert.NoError(t, v.Validate(uploadPageRequest{ID: 10, Action: ActionSubmitApproval}))
	assert.NoError(t, v.Validate(asyncUploadRequest{}))

	err = v.Validate(asyncUploadRequest{Token: "t"})
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("post_id"))

	err = v.Validate(decisionRequest{ID: 3, Decision: "maybe"})
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("decision"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ValidationError{Errors: map[string]string{"id": "is required"}}, http.StatusBadRequest},
		{&replacefiles.AttachmentError{AttachmentID: 1, Op: "get", Err: replacefiles.ErrAttachmentNotFound}, http.StatusNotFound},
		{fmt.Errorf("%w: tape", replacefiles.ErrStorageBackendNotFound), http.StatusNotFound},
		{&replacefiles.StorageError{Op: "stat", Err: replacefiles.ErrObjectNotFound}, http.StatusNotFound},
		{replacefiles.ErrInvalidParent, http.StatusConflict},
		{replacefiles.ErrInvalidTransition, http.StatusConflict},
		{replacefiles.ErrForbidden, http.StatusForbidden},
		{&replacefiles.AttachmentError{Op: "upload_replacement", Err: replacefiles.ErrInvalidToken}, http.StatusForbidden},
		{replacefiles.ErrInvalidField, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
