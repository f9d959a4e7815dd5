package workers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"goeverbridge/config"
	"goeverbridge/logger"
	"goeverbridge/workers/handlers"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

func NewRouter(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Options("/*", CORSHeaders)

	r.Get("/health", handlers.HealthCheck)
	r.Get("/state", api.State)

	r.Get("/balance/evm/{chainId}", api.BalanceEVM)
	r.Get("/balance/tvm", api.BalanceTVM)

	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", api.CreateTransfer)
		r.Get("/", api.ListTransfers)
		r.Get("/{id}", api.GetTransfer)
		r.Delete("/{id}", api.DeleteTransfer)
		r.Get("/{id}/events", api.Events)
		r.Post("/{id}/withdraw/{asset}", api.Withdraw)
		r.Post("/{id}/{action}", api.Action)
	})

	return r
}

// Worker_HTTP serves handler until ctx is done.
func Worker_HTTP(ctx context.Context, cfg config.Configuration, handler http.Handler, lggr logger.Logger) error {
	lggr = lggr.Named("http")
	lggr.Infow("Starting HTTP service", "port", cfg.Server.Port, "ssl", cfg.Server.UseSSL)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.UseSSL {
		cert, err := tls.LoadX509KeyPair("certchain.pem", "privatekey.pem")
		if err != nil {
			return fmt.Errorf("loading TLS key pair: %w", err)
		}
		server.Addr = ":443"
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.UseSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	lggr.Infow("HTTP service started")

	select {
	case err := <-errc:
		return fmt.Errorf("error listening: %w", err)
	case <-ctx.Done():
	}
	lggr.Infow("HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP service shutdown: %w", err)
	}
	lggr.Infow("HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, X-Requested-With")
}
