package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/replace-files/pkg/replacefiles"
)

// Collector holds the replacement counters
type Collector struct {
	// Uploads counts replacement files stored
	Uploads prometheus.Counter

	// UploadedBytes counts bytes of replacement files stored
	UploadedBytes prometheus.Counter

	// Merges counts replacements merged into their originals
	Merges prometheus.Counter

	// FileCopyFailures counts merges that could not copy the replacement file
	FileCopyFailures prometheus.Counter

	// Deletions counts permanently deleted attachments by reason
	Deletions *prometheus.CounterVec

	// Errors counts failed operations by operation name
	Errors *prometheus.CounterVec
}

// New creates the counters and registers them on reg
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		Uploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "replace_files_uploads_total",
			Help: "Total number of replacement files uploaded",
		}),
		UploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "replace_files_uploaded_bytes_total",
			Help: "Total bytes of replacement files uploaded",
		}),
		Merges: factory.NewCounter(prometheus.CounterOpts{
			Name: "replace_files_merges_total",
			Help: "Total number of replacements merged into their originals",
		}),
		FileCopyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "replace_files_file_copy_failures_total",
			Help: "Total number of merges whose file copy failed",
		}),
		Deletions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replace_files_deletions_total",
			Help: "Total number of attachments permanently deleted by reason",
		}, []string{"reason"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replace_files_errors_total",
			Help: "Total number of failed operations by operation",
		}, []string{"operation"}),
	}
}

// Hooks returns service hooks that feed the counters
func (c *Collector) Hooks() *replacefiles.Hooks {
	return &replacefiles.Hooks{
		AfterUpload: []replacefiles.AfterUploadHook{
			func(hctx *replacefiles.HookContext, parent, replacement *replacefiles.Attachment, bytesWritten int64) error {
				c.Uploads.Inc()
				c.UploadedBytes.Add(float64(bytesWritten))
				return nil
			},
		},
		AfterMerge: []replacefiles.AfterMergeHook{
			func(hctx *replacefiles.HookContext, original *replacefiles.Attachment, replacementID int64) error {
				c.Merges.Inc()
				return nil
			},
		},
		AfterDelete: []replacefiles.AfterDeleteHook{
			func(hctx *replacefiles.HookContext, attachment *replacefiles.Attachment, reason string) error {
				c.Deletions.WithLabelValues(reason).Inc()
				return nil
			},
		},
		OnError: []replacefiles.ErrorHook{
			func(hctx *replacefiles.HookContext, operation string, err error) {
				c.Errors.WithLabelValues(operation).Inc()
				if operation == replacefiles.OpCopyFile {
					c.FileCopyFailures.Inc()
				}
			},
		},
	}
}

// Handler exposes the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
