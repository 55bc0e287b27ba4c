package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"atomdeploy/internal/deployment"
	"atomdeploy/internal/history"
	"atomdeploy/internal/metrics"
	"atomdeploy/internal/security"
	"atomdeploy/internal/target"
)

const (
	MaxPayloadBytes  = 1_000_000 // 1 MB
	RecentRunsLimit  = 10        // Number of recent runs to return in status endpoint
	historyWriteTime = 5 * time.Second
)

// pushEvent is the part of a GitHub push payload the receiver reads.
type pushEvent struct {
	Ref     string `json:"ref"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`
}

// HandleWebhook handles GitHub webhook requests
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")

	// Validate target name for security
	if err := security.ValidateTargetName(name); err != nil {
		s.Logger.Warn("Invalid target name in webhook request", "target", name, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid target name: %v", err)})
		return
	}

	// Check if target exists
	t, err := s.Registry.Get(name)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown target"})
		return
	}

	// Check payload size (ContentLength can be -1 if not set, so check for both > 0 and > max)
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	// Check content type
	if r.Header.Get("Content-Type") != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	// Read payload
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err, "target", name)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}
	if len(body) > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	// Verify signature before trusting anything in the request
	if !VerifySignature(body, r.Header.Get(SignatureHeader), t.Secret) {
		metrics.WebhooksTotal.WithLabelValues(name, "forbidden").Inc()
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	// Check event type
	switch r.Header.Get("X-GitHub-Event") {
	case "push":
	case "ping":
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "pong"})
		return
	default:
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	// Parse JSON payload
	var event pushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.Logger.Error("Failed to parse JSON payload", "error", err, "target", name)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	if event.Ref == "" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Missing payload, skipping"})
		return
	}

	// Decide what to deploy before acquiring the lock so that
	// pushes to other refs are answered immediately
	version, ok := t.VersionForPush(event.Ref, event.After)
	if !ok || event.Deleted {
		metrics.WebhooksTotal.WithLabelValues(name, "skipped").Inc()
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not a deployable ref, skipping"})
		return
	}
	if err := security.ValidateVersionRef(version); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid version: %v", err)})
		return
	}

	// Try to acquire deployment lock
	if !s.LockManager.TryLock(name) {
		s.Logger.Warn("Deployment already in progress, rejecting", "target", name, "version", version)
		metrics.WebhooksTotal.WithLabelValues(name, "rejected").Inc()
		s.recordRejection(r.Context(), name, version)
		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Deployment already in progress"})
		return
	}

	metrics.WebhooksTotal.WithLabelValues(name, "accepted").Inc()

	// Respond immediately to GitHub to avoid timeout
	// GitHub webhooks have a 10-second timeout, so we acknowledge receipt
	// and process the deployment asynchronously
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Deployment accepted",
		"target":  name,
		"version": version,
	})

	// Execute deployment asynchronously
	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.LockManager.Unlock(name)
		s.executeRun(t, deployment.VersionRef(version))
	}()
}

// executeRun runs the deployment under the server's run context
func (s *Server) executeRun(t *target.Target, version deployment.VersionRef) {
	metrics.RunsInProgress.Inc()
	defer metrics.RunsInProgress.Dec()

	result := s.Run(s.runCtx, t, version)

	// Log final status (we already responded to GitHub)
	if result.ExitCode() == 0 {
		s.Logger.Info("deployment completed", "target", result.Target, "run_id", result.ID, "serving", result.Serving)
	} else {
		s.Logger.Error("deployment failed", "target", result.Target, "run_id", result.ID,
			"status", result.Status(), "reason", result.Reason())
	}
}

// recordRejection stores a trigger refused because another run held the lock
func (s *Server) recordRejection(ctx context.Context, name, version string) {
	if s.History == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTime)
	defer cancel()

	_, err := s.History.RecordRun(ctx, &history.RunRecord{
		RunID:        uuid.NewString(),
		Target:       name,
		Trigger:      deployment.TriggerWebhook,
		Requested:    version,
		Status:       history.StatusRejected,
		ErrorMessage: stringPtr("Deployment already in progress"),
	})
	if err != nil {
		s.Logger.Error("Failed to record rejection in history", "error", err, "target", name)
	}
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":       "ok",
		"targets":      s.Registry.List(),
		"target_count": s.Registry.Count(),
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatus handles run status requests for one target
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")

	// Validate target name for security
	if err := security.ValidateTargetName(name); err != nil {
		s.Logger.Warn("Invalid target name in status request", "target", name, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid target name: %v", err)})
		return
	}

	// Check if target exists
	if _, err := s.Registry.Get(name); err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown target"})
		return
	}

	// Check if history is available
	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	latest, err := s.History.GetLatestRun(r.Context(), name)
	if err != nil {
		s.Logger.Error("Failed to get latest run", "error", err, "target", name)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch run status"})
		return
	}

	recent, err := s.History.GetRunHistory(r.Context(), name, RecentRunsLimit)
	if err != nil {
		s.Logger.Error("Failed to get run history", "error", err, "target", name)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch run status"})
		return
	}
	if recent == nil {
		recent = []history.RunRecord{}
	}

	s.respondJSON(w, http.StatusOK, history.TargetStatus{
		Target:        name,
		Running:       s.LockManager.Locked(name),
		LatestRun:     latest,
		RecentHistory: recent,
	})
}

// HandleStatusAll returns the latest run of every configured target
func (s *Server) HandleStatusAll(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	latest, err := s.History.GetAllTargetsStatus(r.Context())
	if err != nil {
		s.Logger.Error("Failed to get targets status", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch run status"})
		return
	}

	statuses := make([]history.TargetStatus, 0, s.Registry.Count())
	for _, name := range s.Registry.List() {
		statuses = append(statuses, history.TargetStatus{
			Target:    name,
			Running:   s.LockManager.Locked(name),
			LatestRun: latest[name],
		})
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"targets": statuses})
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func stringPtr(s string) *string {
	return &s
}
