package renderer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stageDuration tracks the time spent in each pipeline stage
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loupiote_stage_duration_seconds",
		Help:    "Frame pipeline stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
	}, []string{"stage"})

	// framesTotal counts frames by result
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loupiote_frames_total",
		Help: "Total frames by result",
	}, []string{"result"}) // "presented", "interrupted" or "failed"

	// rebuildsTotal counts background scene rebuilds by outcome
	rebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loupiote_scene_rebuilds_total",
		Help: "Total background scene rebuilds by outcome",
	}, []string{"outcome"})

	// rebuildDuration tracks background scene rebuild latency
	rebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loupiote_scene_rebuild_duration_seconds",
		Help:    "Background scene rebuild duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	// accumulatedSamples reports the samples per pixel of the last frame
	accumulatedSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loupiote_accumulated_samples",
		Help: "Accumulated samples per pixel of the last presented frame",
	})

	// raysTraced counts traced rays across all bounces
	raysTraced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loupiote_rays_traced_total",
		Help: "Total rays traced",
	})
)
