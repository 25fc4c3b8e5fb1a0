package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/raaihank/feedback-sentinel/internal/bias"
	"go.uber.org/zap"
)

// textRequest is the body accepted by the analysis endpoints
type textRequest struct {
	Text string `json:"text"`
}

// AnalyzeResponse is returned by POST /api/analyze
type AnalyzeResponse struct {
	Analysis       bias.Analysis    `json:"analysis"`
	Status         bias.Status      `json:"status"`
	Buttons        bias.ButtonState `json:"buttons"`
	LibraryVersion string           `json:"library_version"`
	Cached         bool             `json:"cached"`
}

// RenderResponse is returned by POST /api/render
type RenderResponse struct {
	HTML           string         `json:"html"`
	Segments       []bias.Segment `json:"segments"`
	Analysis       bias.Analysis  `json:"analysis"`
	LibraryVersion string         `json:"library_version"`
}

// FeedbackResponse is returned by POST /api/feedback
type FeedbackResponse struct {
	Accepted      bool          `json:"accepted"`
	Error         string        `json:"error,omitempty"`
	BlockingFlags int           `json:"blocking_flags"`
	Analysis      bias.Analysis `json:"analysis"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	snap := s.library.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":               "feedback-sentinel",
		"version":            Version,
		"uptime_seconds":     int64(time.Since(s.startedAt).Seconds()),
		"cache_enabled":      s.cache != nil,
		"rate_limit_enabled": s.config.RateLimit.Enabled,
		"library": map[string]any{
			"version":    snap.Version,
			"term_count": snap.TermCount,
			"compiled":   snap.Compiled,
			"source":     snap.Source,
			"loaded_at":  snap.LoadedAt,
		},
		"websocket": s.wsHub.GetStats(),
	})
}

// handleTerms lists the active term library
func (s *Server) handleTerms(w http.ResponseWriter, r *http.Request) {
	snap := s.library.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"version": snap.Version,
		"source":  snap.Source,
		"count":   snap.TermCount,
		"terms":   s.library.Terms(),
	})
}

// handleAnalyze scans a text snapshot and reports flags, status and button state
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	text, ok := s.decodeText(w, r)
	if !ok {
		return
	}

	analysis, version, cached := s.analyze(r.Context(), text)
	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Analysis:       analysis,
		Status:         bias.StatusFor(analysis),
		Buttons:        bias.Gate(analysis),
		LibraryVersion: version,
		Cached:         cached,
	})
}

// handleRender returns the highlight overlay for a text snapshot
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	text, ok := s.decodeText(w, r)
	if !ok {
		return
	}

	analysis, version, _ := s.analyze(r.Context(), text)
	html, segments := s.renderer.Load().Render(text, analysis)
	writeJSON(w, http.StatusOK, RenderResponse{
		HTML:           html,
		Segments:       segments,
		Analysis:       analysis,
		LibraryVersion: version,
	})
}

// handleFeedback accepts a submission only when it carries no blocking terms
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	text, ok := s.decodeText(w, r)
	if !ok {
		return
	}

	log := s.logger.WithRequestID(getRequestID(r.Context()))
	analysis, _, _ := s.analyze(r.Context(), text)

	var blocked *bias.BlockedError
	if err := bias.CheckSubmission(analysis); errors.As(err, &blocked) {
		log.Info("Feedback submission blocked",
			zap.Int("blocking_flags", blocked.BlockingFlags),
			zap.Strings("term_ids", analysis.TermIDs()),
		)
		writeJSON(w, http.StatusUnprocessableEntity, FeedbackResponse{
			Error:         blocked.Error(),
			BlockingFlags: blocked.BlockingFlags,
			Analysis:      analysis,
		})
		return
	}

	log.Info("Feedback submission accepted", zap.Int("warning_flags", analysis.WarningFlags))
	writeJSON(w, http.StatusAccepted, FeedbackResponse{Accepted: true, Analysis: analysis})
}

// analyze runs the active detector, consulting the cache when one is configured
func (s *Server) analyze(ctx context.Context, text string) (bias.Analysis, string, bool) {
	detector, version := s.library.Current()

	if s.cache != nil {
		if res := s.cache.Get(ctx, version, text); res != nil && res.CacheHit {
			return res.Entry.Analysis, version, true
		}
	}

	analysis := detector.Analyze(text)

	if s.cache != nil {
		if err := s.cache.Store(ctx, version, text, analysis); err != nil {
			s.logger.Warn("Failed to cache analysis", zap.Error(err))
		}
	}
	return analysis, version, false
}

// decodeText reads a textRequest, writing an error response on failure
func (s *Server) decodeText(w http.ResponseWriter, r *http.Request) (string, bool) {
	limit := s.config.Server.MaxTextBytes
	// room for the JSON envelope and escapes
	r.Body = http.MaxBytesReader(w, r.Body, int64(limit)*2+1024)

	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return "", false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}

	if limit > 0 && len(req.Text) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("text exceeds %d bytes", limit))
		return "", false
	}
	return req.Text, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
