package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kababayan_admissions_total",
			Help: "Join request decisions by result.",
		},
		[]string{"result"},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kababayan_verifications_total",
			Help: "Phone verification attempts by result.",
		},
		[]string{"result"},
	)

	invitesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kababayan_invites_issued_total",
			Help: "Invite link issuance outcomes.",
		},
		[]string{"status"},
	)
)

// Init wires up metrics, tracing and the ops logger. The /metrics
// server lives until ctx is cancelled.
func Init(ctx context.Context, metricsAddr string) error {
	opsLogger, err := zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(admissionsTotal, verificationsTotal, invitesIssuedTotal)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		opsLogger.Info("serving metrics", zap.String("addr", metricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opsLogger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			opsLogger.Error("metrics server shutdown failed", zap.Error(err))
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			opsLogger.Error("tracer provider shutdown failed", zap.Error(err))
		}
		_ = opsLogger.Sync()
	}()

	return nil
}

func RecordAdmission(result string) {
	admissionsTotal.WithLabelValues(result).Inc()
}

func RecordVerification(result string) {
	verificationsTotal.WithLabelValues(result).Inc()
}

func RecordInvite(status string) {
	invitesIssuedTotal.WithLabelValues(status).Inc()
}
