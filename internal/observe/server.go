package observe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Serve runs the operational HTTP endpoint on addr until ctx is cancelled:
// Prometheus metrics on /metrics plus liveness and readiness probes. The
// metrics handler serves the default Prometheus registry, which the exporter
// bridge from [InitProvider] feeds.
func Serve(ctx context.Context, addr string, checks ...Check) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(checks),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newMux(checks []Check) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	registerHealth(mux, checks)
	return mux
}
