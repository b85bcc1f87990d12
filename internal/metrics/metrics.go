// Package metrics exposes watchdog counters and state in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenwatch/internal/logging"
	"tokenwatch/internal/watchdog"
)

const (
	namespace = "tokenwatch"
	subsystem = "watchdog"
)

// Collector records watchdog events into its own registry.
type Collector struct {
	registry *prometheus.Registry

	state       *prometheus.GaugeVec
	ticks       prometheus.Counter
	changes     prometheus.Counter
	suspensions prometheus.Counter
	restarts    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	lastRestart prometheus.Gauge
}

// New registers the watchdog metrics plus the Go and process collectors on a
// fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Current watchdog state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ticks_total",
			Help:      "Total number of evaluation ticks",
		}),
		changes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "changes_detected_total",
			Help:      "Total number of detected watch target changes",
		}),
		suspensions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restart_suspensions_total",
			Help:      "Total number of restarts deferred because the process lock was held",
		}),
		restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restarts_total",
			Help:      "Total number of worker restarts by result",
		}, []string{"result"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of lock or fingerprint errors",
		}, []string{"kind"}),
		lastRestart: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_restart_timestamp_seconds",
			Help:      "Unix time of the last successful worker restart",
		}),
	}
	c.setState(watchdog.StateIdle)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe implements watchdog.Observer.
func (c *Collector) Observe(_ context.Context, ev watchdog.Event) {
	switch ev.Kind {
	case watchdog.EventTick:
		c.ticks.Inc()
	case watchdog.EventTransition, watchdog.EventStarted:
		c.setState(ev.To)
	case watchdog.EventChangeDetected:
		c.changes.Inc()
	case watchdog.EventRestartSuspended:
		c.suspensions.Inc()
	case watchdog.EventRestarted:
		c.restarts.WithLabelValues("success").Inc()
		c.lastRestart.Set(float64(ev.At.Unix()))
	case watchdog.EventRestartFailed:
		c.restarts.WithLabelValues("failure").Inc()
	case watchdog.EventLockError:
		c.errors.WithLabelValues("lock").Inc()
	case watchdog.EventSampleError:
		c.errors.WithLabelValues("fingerprint").Inc()
	}
}

func (c *Collector) setState(current watchdog.State) {
	if current == "" {
		return
	}
	for _, s := range watchdog.States {
		value := 0.0
		if s == current {
			value = 1
		}
		c.state.WithLabelValues(string(s)).Set(value)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("metrics endpoint listening",
			logging.String(logging.FieldEventType, "metrics_listening"),
			logging.String("address", listener.Addr().String()),
		)
	}
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
