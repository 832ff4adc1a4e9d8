package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goodtune/pedometer/internal/pedometer"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSteps returns the buckets in [start, end], both epoch milliseconds.
func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	start, err := millisParam(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := millisParam(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start > end {
		writeError(w, http.StatusBadRequest, "start must not be after end")
		return
	}

	buckets, err := s.pedometer.GetSteps(r.Context(), start, end)
	if err != nil {
		s.logger.Error().Err(err).Msg("Range query failed")
		writeError(w, http.StatusInternalServerError, "Failed to query steps")
		return
	}

	WriteJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.pedometer.GetDailySteps(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Daily query failed")
		writeError(w, http.StatusInternalServerError, "Failed to query steps")
		return
	}
	WriteJSON(w, http.StatusOK, buckets)
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, PermissionResponse{Granted: s.pedometer.IsGranted(r.Context())})
}

func (s *Server) handleRequestPermission(w http.ResponseWriter, r *http.Request) {
	granted, err := s.pedometer.RequestPermission(r.Context())
	if err != nil {
		if errors.Is(err, pedometer.ErrNotRegistered) {
			writeError(w, http.StatusConflict, "No permission launcher registered")
			return
		}
		s.logger.Error().Err(err).Msg("Permission request failed")
		writeError(w, http.StatusInternalServerError, "Permission request failed")
		return
	}
	WriteJSON(w, http.StatusOK, PermissionResponse{Granted: granted})
}

func (s *Server) handleStartTracking(w http.ResponseWriter, r *http.Request) {
	if err := s.pedometer.StartStepsTracking(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to start tracking")
		writeError(w, http.StatusInternalServerError, "Failed to start tracking")
		return
	}
	WriteJSON(w, http.StatusAccepted, SuccessResponse{Message: "Step tracking started"})
}

func (s *Server) handleStartBackground(w http.ResponseWriter, r *http.Request) {
	var n pedometer.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.pedometer.StartBackgroundTracking(r.Context(), n); err != nil {
		s.backgroundError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, SuccessResponse{Message: "Background tracking scheduled", Data: n})
}

func (s *Server) handleStopBackground(w http.ResponseWriter, r *http.Request) {
	if err := s.pedometer.StopBackgroundTracking(r.Context()); err != nil {
		s.backgroundError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, SuccessResponse{Message: "Background tracking cancelled"})
}

func (s *Server) backgroundError(w http.ResponseWriter, err error) {
	if errors.Is(err, pedometer.ErrNoScheduler) {
		writeError(w, http.StatusServiceUnavailable, "Background tracking is disabled")
		return
	}
	s.logger.Error().Err(err).Msg("Background tracking request failed")
	writeError(w, http.StatusInternalServerError, "Background tracking request failed")
}

func millisParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be epoch milliseconds", name)
	}
	return v, nil
}
