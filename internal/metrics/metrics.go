// Package metrics exposes client-side counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatdao_reconnects_total",
		Help: "Total number of scheduled reconnect attempts",
	})
	EnvelopesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatdao_envelopes_received_total",
		Help: "Inbound envelopes by event kind",
	}, []string{"event"})
	MalformedEnvelopes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatdao_malformed_envelopes_total",
		Help: "Inbound frames dropped because they could not be decoded",
	})
	EnvelopesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatdao_envelopes_sent_total",
		Help: "Outbound envelopes by event kind",
	}, []string{"event"})
	ImageSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatdao_image_submissions_total",
		Help: "Image submissions by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(Reconnects, EnvelopesReceived, MalformedEnvelopes, EnvelopesSent, ImageSubmissions)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
