package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rateledger/deposits-cli/internal/audit"
	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve current products and audit reports over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		// The server is the only long-lived process; validation
		// thresholds follow config changes without a restart.
		snap := config.NewSnapshot(cfg.Server.ConfigTTL, nil)

		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		srv := &http.Server{
			Addr:         addr,
			Handler:      newRouter(st, snap),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("http server listening", zap.String("addr", addr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		}
	},
}

func newRouter(st store.Store, snap *config.Snapshot) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/products/current", func(w http.ResponseWriter, req *http.Request) {
		products, err := st.CurrentProducts(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, products)
	})

	r.Get("/batches/{id}/groups", func(w http.ResponseWriter, req *http.Request) {
		groups, err := st.DedupGroupsByBatch(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, groups)
	})

	r.Get("/batches/{id}/audit/report", func(w http.ResponseWriter, req *http.Request) {
		c, err := snap.Get()
		if err != nil {
			writeError(w, err)
			return
		}
		report, err := audit.NewValidator(c.Audit, st).Validate(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
