package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/storage"
)

func (s *Server) success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"data":      data,
		"timestamp": float64(s.now().UnixMilli()) / 1000,
	})
}

func (s *Server) failure(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"status":  "error",
		"message": message,
	})
}

// statusFor maps store outages to 503 and everything else to 500.
func statusFor(err error) int {
	if errors.Is(err, storage.ErrUnavailable) || errors.Is(err, storage.ErrNotConfigured) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) tool(c *gin.Context) {
	data, err := s.backend.Snapshot(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("build snapshot")
		s.failure(c, statusFor(err), "Error in get_tool_data: "+err.Error())
		return
	}
	s.success(c, json.RawMessage(data))
}

func (s *Server) update(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.backend.Ping(ctx); err != nil {
		s.failure(c, statusFor(err), "Database connection failed: "+err.Error())
		return
	}

	result, err := s.backend.RunCycle(ctx)
	if err != nil {
		s.failure(c, statusFor(err), "Failed to update network stats: "+err.Error())
		return
	}

	body := gin.H{
		"outcome": result.Outcome,
		"message": "Network stats updated successfully",
	}
	if outcomeErr := result.Err(); outcomeErr != nil {
		body["message"] = "Network stats not updated"
		body["kind"] = outcomeKind(outcomeErr)
	}
	if result.Reason != "" {
		body["reason"] = result.Reason
	}
	if result.Validation != nil {
		body["hashrates"] = result.Readings.Map()
		body["validation_results"] = result.Validation
	}
	s.success(c, body)
}

func outcomeKind(err error) string {
	switch {
	case errors.Is(err, netstats.ErrGuardSkip):
		return "guard_skip"
	case errors.Is(err, netstats.ErrValidationFailure):
		return "validation_failure"
	default:
		return "unknown"
	}
}

type logView struct {
	Timestamp   string         `json:"timestamp"`
	PeriodStart string         `json:"period_start"`
	EventType   string         `json:"event_type"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
}

func (s *Server) recentLogs(c *gin.Context) {
	limit := DefaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.failure(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	ctx := c.Request.Context()
	if err := s.backend.Ping(ctx); err != nil {
		s.failure(c, statusFor(err), "Database connection failed: "+err.Error())
		return
	}

	entries, err := s.logs.Recent(ctx, limit)
	if err != nil {
		s.failure(c, statusFor(err), "Failed to get logs: "+err.Error())
		return
	}

	views := make([]logView, 0, len(entries))
	for _, e := range entries {
		views = append(views, logView{
			Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
			PeriodStart: e.PeriodStart.UTC().Format(time.RFC3339),
			EventType:   string(e.EventType),
			Message:     e.Message,
			Data:        e.Data,
		})
	}
	s.success(c, views)
}

func (s *Server) periodAverages(c *gin.Context) {
	avg, err := s.averages.ComputeAverages(c.Request.Context())
	if err != nil {
		s.failure(c, statusFor(err), "Failed to calculate averages: "+err.Error())
		return
	}
	if avg == nil {
		s.success(c, nil)
		return
	}
	s.success(c, avg)
}
