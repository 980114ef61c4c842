// Package metrics exports the link's health counters and gauges for
// Prometheus scraping via a promauto collector struct.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openairlink/airlink/internal/config"
)

// Link holds all Prometheus collectors for one open air link.
type Link struct {
	RSSI        prometheus.Gauge
	SNR         prometheus.Gauge
	LinkQuality prometheus.Gauge
	Mode        prometheus.Gauge
	Failsafe    prometheus.Gauge

	FramesValid   prometheus.Counter
	FramesInvalid prometheus.Counter
	FramesLost    prometheus.Counter
	ModeSwitches  prometheus.Counter
	FailsafeCount prometheus.Counter
}

// NewLink registers and returns the link collectors. role is "tx" or
// "rx" and becomes a constant label so one Prometheus instance can
// scrape both ends of a bench link.
func NewLink(role string) *Link {
	labels := prometheus.Labels{"role": role}
	return &Link{
		RSSI: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "airlink_rssi_dbm", Help: "Filtered RSSI of the last received frames, dBm", ConstLabels: labels,
		}),
		SNR: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "airlink_snr_db", Help: "Filtered SNR of the last received frames, dB", ConstLabels: labels,
		}),
		LinkQuality: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "airlink_link_quality", Help: "Filtered link quality, 0..100", ConstLabels: labels,
		}),
		Mode: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "airlink_mode", Help: "Current air mode (1 fastest .. 5 longest)", ConstLabels: labels,
		}),
		Failsafe: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "airlink_failsafe", Help: "1 while failsafe is asserted", ConstLabels: labels,
		}),
		FramesValid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "airlink_frames_valid_total", Help: "Frames received and CRC-validated", ConstLabels: labels,
		}),
		FramesInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "airlink_frames_invalid_total", Help: "Frames received but rejected (CRC or size)", ConstLabels: labels,
		}),
		FramesLost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "airlink_frames_lost_total", Help: "Listen deadlines that passed with no frame", ConstLabels: labels,
		}),
		ModeSwitches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "airlink_mode_switches_total", Help: "Mode switches applied", ConstLabels: labels,
		}),
		FailsafeCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "airlink_failsafe_total", Help: "Failsafe assertions", ConstLabels: labels,
		}),
	}
}

// Serve blocks on the /metrics HTTP listener. Run it in its own
// goroutine.
func Serve(cfg *config.Metrics) error {
	log := slog.With("func", "metrics.Serve", "params", "(*config.Metrics)", "return", "(error)", "package", "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("metrics listening", "addr", cfg.ListenAddr)
	return http.ListenAndServe(cfg.ListenAddr, mux)
}
