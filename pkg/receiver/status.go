package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/notifi-network/lambda-manager/pkg/tracker"
)

const statusShutdownTimeout = 5 * time.Second

// StatusServer exposes the manager's operational surface: health probes,
// Prometheus metrics, and the build attempt registry.
type StatusServer struct {
	Addr    string
	Tracker *tracker.Tracker
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *StatusServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	log.FromContext(ctx).Info("status server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down status server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return fmt.Errorf("serving status endpoints: %w", err)
	}
}

func (s *StatusServer) routes() http.Handler {
	mux := http.NewServeMux()

	health := &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}
	mux.Handle("/healthz", http.StripPrefix("/healthz", health))
	mux.Handle("/healthz/", http.StripPrefix("/healthz", health))

	ready := &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}
	mux.Handle("/readyz", http.StripPrefix("/readyz", ready))
	mux.Handle("/readyz/", http.StripPrefix("/readyz", ready))

	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))

	mux.HandleFunc("/builds", s.handleBuilds)

	return mux
}

// handleBuilds lists tracked build attempts, newest first. Supplying both
// thirdPartyId and parserId narrows the listing to one handler; supplying
// only one of them is rejected rather than guessed at.
func (s *StatusServer) handleBuilds(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenant := req.URL.Query().Get("thirdPartyId")
	handler := req.URL.Query().Get("parserId")
	if (tenant == "") != (handler == "") {
		http.Error(w, "thirdPartyId and parserId must be supplied together", http.StatusBadRequest)
		return
	}

	var attempts []tracker.BuildAttempt
	if tenant != "" {
		attempts = s.Tracker.ForHandler(tenant, handler)
	} else {
		attempts = s.Tracker.All()
	}
	if attempts == nil {
		attempts = []tracker.BuildAttempt{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(attempts); err != nil {
		log.FromContext(req.Context()).Error(err, "writing build listing")
	}
}
