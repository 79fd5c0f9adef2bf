package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Prometheus struct {
	remoteWrites       *prometheus.CounterVec
	remoteWriteLatency *prometheus.HistogramVec
	emissions          *prometheus.CounterVec
	seeds              *prometheus.CounterVec
	localFailures      *prometheus.CounterVec
	uploads            *prometheus.CounterVec
	uploadBytes        prometheus.Counter
}

func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Prometheus{
		remoteWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrocms_remote_writes_total",
				Help: "Total number of remote store mutations",
			},
			[]string{"op", "status"},
		),
		remoteWriteLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retrocms_remote_write_duration_seconds",
				Help:    "Duration of remote store mutations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"op"},
		),
		emissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrocms_snapshot_emissions_total",
				Help: "Snapshots delivered to subscribers",
			},
			[]string{"collection", "origin"},
		),
		seeds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrocms_seed_writes_total",
				Help: "Default catalog writes to an empty remote store",
			},
			[]string{"collection"},
		),
		localFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrocms_local_store_failures_total",
				Help: "Failed local cache operations",
			},
			[]string{"op"},
		),
		uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrocms_uploads_total",
				Help: "Photo file uploads",
			},
			[]string{"status"},
		),
		uploadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "retrocms_upload_bytes_total",
				Help: "Bytes of successfully uploaded photo files",
			},
		),
	}
}

func (p *Prometheus) ObserveRemoteWrite(op string, duration time.Duration, err error) {
	p.remoteWrites.WithLabelValues(op, status(err)).Inc()
	p.remoteWriteLatency.WithLabelValues(op).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveEmission(collection string, origin string) {
	p.emissions.WithLabelValues(collection, origin).Inc()
}

func (p *Prometheus) ObserveSeed(collection string) {
	p.seeds.WithLabelValues(collection).Inc()
}

func (p *Prometheus) ObserveLocalStoreFailure(op string) {
	p.localFailures.WithLabelValues(op).Inc()
}

func (p *Prometheus) ObserveUpload(size int64, err error) {
	p.uploads.WithLabelValues(status(err)).Inc()
	if err == nil {
		p.uploadBytes.Add(float64(size))
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var _ Recorder = (*Prometheus)(nil)
