// Package server exposes the coordinator's HTTP surface: the GitHub
// webhook endpoint, health and status endpoints, and the Prometheus
// metrics listener.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatchd/internal/config"
	"dispatchd/internal/dispatch"
	"dispatchd/internal/source"
	"dispatchd/internal/task"
)

// Coordinator is the dispatcher surface the HTTP handlers need.
type Coordinator interface {
	Submit(ctx context.Context, t *task.Task) (task.Decision, error)
	Status() dispatch.Status
}

// StartServer initializes and starts the HTTP server for webhooks and
// status. It supports graceful shutdown by returning the server instance.
func StartServer(cfg *config.Config, hook http.Handler, coord Coordinator, builder *source.Builder, logger *slog.Logger, errChan chan<- error) *http.Server {
	listenAddr := fmt.Sprintf("%s:%d", cfg.WebhookHost, cfg.WebhookPort)

	mux := http.NewServeMux()
	mux.Handle(cfg.WebhookPath, hook)
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/status", handleStatus(coord))
	if cfg.DevMode {
		mux.HandleFunc("/testevent", handleTestEvent(coord, builder, cfg.GitHub.MentionedUser, logger))
	}

	server := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("webhook server starting", "addr", listenAddr, "dev_mode", cfg.DevMode)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Error("webhook server failed to start", "err", err)
			errChan <- err
		}
		close(errChan)
	}()

	return server
}

// StartMetricsServer initializes and starts the HTTP server for Prometheus metrics.
// It returns a server instance for graceful shutdown support.
func StartMetricsServer(port int, logger *slog.Logger, errChan chan<- error) *http.Server {
	listenAddr := fmt.Sprintf(":%d", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("metrics server starting", "port", port)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed to start", "err", err)
			errChan <- err
		}
	}()

	return server
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleStatus reports slot occupancy and per-key queue depths.
func handleStatus(coord Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(coord.Status())
	}
}

// testEventRequest is the body accepted by the dev-only /testevent endpoint.
type testEventRequest struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Actor string `json:"actor"`
}

// handleTestEvent synthesizes an issue-opened delivery so the pipeline can
// be exercised without a real GitHub webhook. Only mounted in dev mode.
func handleTestEvent(coord Coordinator, builder *source.Builder, mentionedUser string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()

		var req testEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		if req.Owner == "" || req.Repo == "" {
			http.Error(w, "owner and repo are required", http.StatusBadRequest)
			return
		}
		if req.Actor == "" {
			req.Actor = "dev"
		}
		if req.Title == "" {
			req.Title = "Test event"
		}
		// The trigger check requires a mention, so add one if missing.
		if mention := "@" + mentionedUser; !strings.Contains(strings.ToLower(req.Body), strings.ToLower(mention)) {
			req.Body = mention + " " + req.Body
		}

		deliveryID := uuid.New().String()
		payload, err := json.Marshal(syntheticIssuesEvent(req))
		if err != nil {
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

		t, err := builder.Build("testevent", "issues", deliveryID, payload)
		if err != nil {
			logger.Error("test event rejected", "err", err)
			http.Error(w, fmt.Sprintf("rejected: %v", err), http.StatusUnprocessableEntity)
			return
		}

		decision, err := coord.Submit(r.Context(), t)
		if err != nil {
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

		logger.Info("test event submitted", "task_id", t.ID, "decision", decision)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":      string(decision),
			"delivery_id": deliveryID,
			"task_id":     t.ID,
		})
	}
}

// syntheticIssuesEvent builds a minimal issues payload the event parser
// accepts.
func syntheticIssuesEvent(req testEventRequest) map[string]any {
	full := req.Owner + "/" + req.Repo
	return map[string]any{
		"action": "opened",
		"issue": map[string]any{
			"number":   1,
			"title":    req.Title,
			"body":     req.Body,
			"html_url": fmt.Sprintf("https://github.com/%s/issues/1", full),
		},
		"repository": map[string]any{
			"full_name": full,
			"clone_url": fmt.Sprintf("https://github.com/%s.git", full),
			"owner":     map[string]any{"login": req.Owner},
		},
		"sender": map[string]any{"login": req.Actor},
	}
}
