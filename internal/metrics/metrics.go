// Package metrics exposes loomd's Prometheus collectors and the
// /metrics HTTP endpoint. Grounded on vjache-cie's cmd/cie/index.go
// --metrics-addr wiring (an optional, separately-listening mux serving
// promhttp.Handler()); the collectors themselves are new, sized to the
// permits/sessions/servers/syntax-install counters spec §4.9 calls for.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every gauge/counter loomd reports.
type Registry struct {
	SessionsActive   prometheus.Gauge
	ServersActive    prometheus.Gauge
	PermitsInUse     prometheus.Gauge
	PermitsCapacity  prometheus.Gauge
	SyntaxInstalls   *prometheus.CounterVec // labelled by tier and kind
	SyntaxErrors     *prometheus.CounterVec // labelled by tier and kind
	BrokerCommands   prometheus.Counter
	DocApplyRejected *prometheus.CounterVec // labelled by reason
}

// New constructs a Registry and registers every collector with reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loomd", Name: "sessions_active", Help: "Currently registered editor sessions.",
		}),
		ServersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loomd", Name: "servers_active", Help: "Currently running LSP server processes.",
		}),
		PermitsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loomd", Name: "syntax_permits_in_use", Help: "Syntax parse permits currently held.",
		}),
		PermitsCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loomd", Name: "syntax_permits_capacity", Help: "Configured syntax parse permit capacity.",
		}),
		SyntaxInstalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomd", Name: "syntax_installs_total", Help: "Completed syntax tree installs.",
		}, []string{"tier", "kind"}),
		SyntaxErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomd", Name: "syntax_errors_total", Help: "Parse task failures, by tier and kind.",
		}, []string{"tier", "kind"}),
		BrokerCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loomd", Name: "broker_commands_total", Help: "Commands processed by the broker actor loop.",
		}),
		DocApplyRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loomd", Name: "doc_apply_rejected_total", Help: "Shared document Apply calls rejected, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.SessionsActive, m.ServersActive, m.PermitsInUse, m.PermitsCapacity,
		m.SyntaxInstalls, m.SyntaxErrors, m.BrokerCommands, m.DocApplyRejected,
	)
	return m
}

// Serve starts an HTTP server exposing /metrics on addr, blocking until ctx
// is cancelled. A server error other than a graceful shutdown is logged
// but does not crash the process, matching the teacher's best-effort
// metrics listener.
func Serve(ctx context.Context, addr string, reg prometheus.Gatherer, log *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info("metrics http listener starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics http listener error", "err", err)
	}
}
