package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/replace-files/pkg/replacefiles"
	"github.com/tendant/replace-files/pkg/replacefiles/config"
)

func TestParseArgs(t *testing.T) {
	args, flags := parseArgs([]string{"10", "--json", "--from=3", "--caps=a,b", "--"})
	assert.Equal(t, []string{"10", "--"}, args)
	assert.Equal(t, map[string]string{"json": "true", "from": "3", "caps": "a,b"}, flags)
}

func TestParseID(t *testing.T) {
	id, err := parseID([]string{"11"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	for _, args := range [][]string{nil, {"a"}, {"0"}, {"1", "2"}} {
		_, err := parseID(args)
		assert.Error(t, err, args)
	}
}

func TestHandlePending(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	svc, err := cfg.BuildService(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	parent, err := svc.CreateAttachment(ctx, replacefiles.CreateAttachmentRequest{
		Status: replacefiles.StatusPublish, FileName: "logo.png", Reader: strings.NewReader("v1"),
	})
	require.NoError(t, err)

	caller := replacefiles.Caller{UserID: 7, Capabilities: []replacefiles.Capability{replacefiles.CapUploadFiles}, Admin: true}
	require.NoError(t, svc.SaveUser(ctx, &replacefiles.User{ID: 7, DisplayName: "Ada"}))
	token, err := svc.IssueToken(ctx, replacefiles.PurposeOverrideStatus, caller.UserID)
	require.NoError(t, err)
	_, err = svc.UploadReplacement(ctx, replacefiles.UploadReplacementRequest{
		Caller: caller, ParentID: parent.ID, Token: token, FileName: "logo-v2.png", Reader: strings.NewReader("v2"),
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, handlePending(ctx, &out, svc, []string{strconv.FormatInt(parent.ID, 10)}, nil))
	assert.Contains(t, out.String(), "logo-v2.png")
	assert.Contains(t, out.String(), "replace-pending")
	assert.Contains(t, out.String(), "Ada")
	assert.Contains(t, out.String(), "Total: 1")
}

func TestHandleToken(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	var out bytes.Buffer
	err = handleToken(&out, cfg, map[string]string{"user-id": "7"})
	assert.Error(t, err, "no secret configured")

	cfg.JWTSecret = "s3cret"
	err = handleToken(&out, cfg, map[string]string{"user-id": "7", "name": "Ada", "caps": "upload_files", "ttl": "1h"})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out.String()), "."))

	assert.Error(t, handleToken(&out, cfg, map[string]string{"user-id": "x"}))
	assert.Error(t, handleToken(&out, cfg, map[string]string{"user-id": "7", "ttl": "soon"}))
}

func TestPrintUsage(t *testing.T) {
	var out bytes.Buffer
	printUsage(&out)

	assert.Equal(t, usage, out.String())
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
	assert.False(t, strings.HasSuffix(out.String(), "\n\n"))
	assert.Contains(t, out.String(), "pending <parent-id>")
}
