package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/replace-files/pkg/replacefiles"
	"github.com/tendant/replace-files/pkg/replacefiles/metrics"
	"github.com/tendant/replace-files/pkg/replacefiles/repo/memory"
	memorystorage "github.com/tendant/replace-files/pkg/replacefiles/storage/memory"
	tokenmemory "github.com/tendant/replace-files/pkg/replacefiles/token/memory"
)

func TestCollector_ReplacementLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	repo := memory.New()
	svc, err := replacefiles.New(
		replacefiles.WithRepository(repo),
		replacefiles.WithBlobStore("memory", memorystorage.New()),
		replacefiles.WithTokenStore(tokenmemory.New()),
		replacefiles.WithHooks(collector.Hooks()),
	)
	require.NoError(t, err)
	ctx := context.Background()

	parent, err := svc.CreateAttachment(ctx, replacefiles.CreateAttachmentRequest{
		Status: replacefiles.StatusPublish, FileName: "logo.png", Reader: strings.NewReader("v1"),
	})
	require.NoError(t, err)

	caller := replacefiles.Caller{UserID: 7, Capabilities: []replacefiles.Capability{replacefiles.CapUploadFiles}, Admin: true}
	token, err := svc.IssueToken(ctx, replacefiles.PurposeOverrideStatus, caller.UserID)
	require.NoError(t, err)

	replacement, err := svc.UploadReplacement(ctx, replacefiles.UploadReplacementRequest{
		Caller: caller, ParentID: parent.ID, Token: token, FileName: "logo-v2.png",
		Reader: strings.NewReader("version two"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Uploads))
	assert.Equal(t, float64(len("version two")), testutil.ToFloat64(collector.UploadedBytes))

	require.NoError(t, svc.MergeReplacement(ctx, replacement.ID))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Merges))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Deletions.WithLabelValues(replacefiles.DeleteReasonMerged)))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.FileCopyFailures))
}

func TestCollector_Errors(t *testing.T) {
	collector := metrics.New(prometheus.NewRegistry())
	onError := collector.Hooks().OnError[0]
	hctx := replacefiles.NewHookContext(context.Background())

	onError(hctx, replacefiles.OpCopyFile, errors.New("boom"))
	onError(hctx, replacefiles.OpCloneMeta, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.FileCopyFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Errors.WithLabelValues(replacefiles.OpCopyFile)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Errors.WithLabelValues(replacefiles.OpCloneMeta)))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	collector.Merges.Inc()

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "replace_files_merges_total 1")
}
