package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shamrock-bonds/lead-pipeline/internal/lifecycle"
	"github.com/shamrock-bonds/lead-pipeline/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server for scraper pushes and staff actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Scrapers push batches of raw records here. The batch is processed
		// synchronously: scrape cycles are small and the caller wants the
		// report.
		r.Post("/webhook/arrests", func(w http.ResponseWriter, req *http.Request) {
			var raws []map[string]any
			if err := json.NewDecoder(req.Body).Decode(&raws); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}

			report, err := env.Pipeline.Ingest(req.Context(), raws)
			if err != nil {
				zap.L().Error("serve: webhook batch failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "batch cancelled"})
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		// Staff approval callback: IntakeQueued -> Processed.
		r.Post("/intake/{leadID}/processed", func(w http.ResponseWriter, req *http.Request) {
			leadID := chi.URLParam(req, "leadID")

			err := env.Machine.MarkProcessed(req.Context(), leadID)
			switch {
			case err == nil:
				writeJSON(w, http.StatusOK, map[string]string{"lead_id": leadID, "state": "processed"})
			case eris.Is(err, store.ErrNotFound):
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "lead not found"})
			default:
				var ite *lifecycle.IllegalTransitionError
				if eris.As(err, &ite) {
					writeJSON(w, http.StatusConflict, map[string]string{
						"error": "illegal transition",
						"from":  string(ite.From),
					})
					return
				}
				zap.L().Error("serve: mark processed failed", zap.String("lead_id", leadID), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
