// Package metrics exposes the server's Prometheus instruments. Every method
// is safe on a nil *Metrics so components can run without a registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the chat server.
type Metrics struct {
	// Object store
	UploadsTotal        *prometheus.CounterVec // chatvault_uploads_total{result}
	UploadBytes         prometheus.Counter     // chatvault_upload_bytes_total
	DownloadsTotal      *prometheus.CounterVec // chatvault_downloads_total{source}
	DownloadBytes       prometheus.Counter     // chatvault_download_bytes_total
	CorruptedBlobs      prometheus.Counter     // chatvault_corrupted_blobs_total
	BlobsDeleted        prometheus.Counter     // chatvault_blobs_deleted_total
	CacheEntries        prometheus.Gauge       // chatvault_blob_cache_entries
	CleanupFailures     prometheus.Counter     // chatvault_upload_cleanup_failures_total
	OrphanBlobsReported prometheus.Counter     // chatvault_orphan_blobs_total

	// Message log
	MessagesAppended *prometheus.CounterVec // chatvault_messages_appended_total{type}
	MessagesDeleted  prometheus.Counter     // chatvault_messages_deleted_total

	// Broker
	Subscribers        prometheus.Gauge   // chatvault_broker_subscribers
	EventsPublished    prometheus.Counter // chatvault_broker_events_published_total
	SubscribersDropped prometheus.Counter // chatvault_broker_subscribers_dropped_total
	PublishFailures    prometheus.Counter // chatvault_broker_publish_failures_total

	// HTTP
	RequestsTotal   *prometheus.CounterVec   // chatvault_http_requests_total{method,status}
	RequestDuration *prometheus.HistogramVec // chatvault_http_request_duration_seconds{method}
}

// New registers all metrics with registry.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &Metrics{
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvault_uploads_total",
			Help: "Uploads by final state",
		}, []string{"result"}),
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_upload_bytes_total",
			Help: "Bytes committed by finalized uploads",
		}),
		DownloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvault_downloads_total",
			Help: "Successful downloads by source",
		}, []string{"source"}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_download_bytes_total",
			Help: "Bytes served by downloads",
		}),
		CorruptedBlobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_corrupted_blobs_total",
			Help: "Downloads that failed reassembly checks",
		}),
		BlobsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_blobs_deleted_total",
			Help: "Blobs removed by retention or orphan sweeps",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatvault_blob_cache_entries",
			Help: "Blobs currently held in the read cache",
		}),
		CleanupFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_upload_cleanup_failures_total",
			Help: "Failed uploads whose partial chunks could not be removed",
		}),
		OrphanBlobsReported: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_orphan_blobs_total",
			Help: "Orphaned chunk sets found by sweeps",
		}),
		MessagesAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvault_messages_appended_total",
			Help: "Messages appended to the log by type",
		}, []string{"type"}),
		MessagesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_messages_deleted_total",
			Help: "Messages removed by retention",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatvault_broker_subscribers",
			Help: "Currently connected subscribers",
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_broker_events_published_total",
			Help: "Events handed to the broker",
		}),
		SubscribersDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_broker_subscribers_dropped_total",
			Help: "Subscribers disconnected because their buffer was full",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatvault_broker_publish_failures_total",
			Help: "Publish attempts that failed after a successful append",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatvault_http_requests_total",
			Help: "HTTP requests by method and status",
		}, []string{"method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatvault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordUpload records one upload outcome.
func (m *Metrics) RecordUpload(committed bool, bytes int64) {
	if m == nil {
		return
	}
	if !committed {
		m.UploadsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.UploadsTotal.WithLabelValues("committed").Inc()
	m.UploadBytes.Add(float64(bytes))
}

// RecordDownload records a successful download served from cache or storage.
func (m *Metrics) RecordDownload(fromCache bool, bytes int64) {
	if m == nil {
		return
	}
	source := "store"
	if fromCache {
		source = "cache"
	}
	m.DownloadsTotal.WithLabelValues(source).Inc()
	m.DownloadBytes.Add(float64(bytes))
}

// RecordCorruptedBlob counts a failed reassembly.
func (m *Metrics) RecordCorruptedBlob() {
	if m == nil {
		return
	}
	m.CorruptedBlobs.Inc()
}

// RecordCleanupFailure counts a partial upload left behind.
func (m *Metrics) RecordCleanupFailure() {
	if m == nil {
		return
	}
	m.CleanupFailures.Inc()
}

// RecordBlobsDeleted counts removed blobs.
func (m *Metrics) RecordBlobsDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BlobsDeleted.Add(float64(n))
}

// RecordOrphans counts orphaned chunk sets found by a sweep.
func (m *Metrics) RecordOrphans(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OrphanBlobsReported.Add(float64(n))
}

// SetCacheEntries updates the cache size gauge.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// RecordMessageAppended counts one appended message.
func (m *Metrics) RecordMessageAppended(messageType string) {
	if m == nil {
		return
	}
	m.MessagesAppended.WithLabelValues(messageType).Inc()
}

// RecordMessagesDeleted counts messages removed by retention.
func (m *Metrics) RecordMessagesDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesDeleted.Add(float64(n))
}

// SetSubscribers updates the subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

// RecordPublish counts one published event.
func (m *Metrics) RecordPublish() {
	if m == nil {
		return
	}
	m.EventsPublished.Inc()
}

// RecordSubscriberDropped counts one slow subscriber disconnect.
func (m *Metrics) RecordSubscriberDropped() {
	if m == nil {
		return
	}
	m.SubscribersDropped.Inc()
}

// RecordPublishFailure counts a swallowed publish error.
func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

// RecordRequest records one HTTP request.
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
