package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-homenet/internal/bridges/ksx"
)

const (
	// loopTimeout bounds how long a handler waits for the event loop.
	loopTimeout = 5 * time.Second

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// maxQueryParamLen limits query parameter length.
	maxQueryParamLen = 100
)

// handleListDevices returns the state of every device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), loopTimeout)
	defer cancel()

	devices, err := s.devices.Snapshot(ctx)
	if err != nil {
		s.writeLoopError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns the state of one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), loopTimeout)
	defer cancel()

	state, err := s.devices.DeviceState(ctx, addr)
	if err != nil {
		s.writeLoopError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleRefreshDevice asks a device to report its state. The new state
// is published on MQTT once the device answers.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), loopTimeout)
	defer cancel()

	if err := s.devices.Refresh(ctx, addr); err != nil {
		s.writeLoopError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"address": addr.String(),
		"status":  "requested",
	})
}

// handleGetDeviceHistory returns recorded property changes of a device,
// newest first. Query parameters: property, limit.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		fail(w, r, http.StatusServiceUnavailable, "state history is disabled")
		return
	}

	property := r.URL.Query().Get("property")
	if len(property) > maxQueryParamLen {
		fail(w, r, http.StatusBadRequest, "property too long")
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.history.History(r.Context(), addr.String(), property, limit)
	if err != nil {
		s.logger.Error("reading state history", "address", addr.String(), "error", err)
		fail(w, r, http.StatusInternalServerError, "failed to read state history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.String(),
		"entries": entries,
		"count":   len(entries),
	})
}

// writeLoopError maps errors from the device source to responses.
func (s *Server) writeLoopError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ksx.ErrDeviceNotFound):
		fail(w, r, http.StatusNotFound, "device not found")
	case errors.Is(err, context.DeadlineExceeded):
		fail(w, r, http.StatusGatewayTimeout, "event loop did not answer")
	case errors.Is(err, context.Canceled):
		fail(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("reading device state", "error", err, "request_id", requestID(r.Context()))
		fail(w, r, http.StatusInternalServerError, "failed to read device state")
	}
}

// addressParam parses the {address} route parameter. Both "::0E11" and
// the bare "0E11" are accepted. It writes a 400 and returns false when
// the address is malformed.
func addressParam(w http.ResponseWriter, r *http.Request) (ksx.Address, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil || raw == "" || len(raw) > maxQueryParamLen {
		fail(w, r, http.StatusBadRequest, "invalid device address")
		return ksx.Address{}, false
	}
	if !strings.HasPrefix(raw, "::") {
		raw = "::" + raw
	}
	addr, err := ksx.ParseAddress(raw)
	if err != nil {
		fail(w, r, http.StatusBadRequest, err.Error())
		return ksx.Address{}, false
	}
	return addr, true
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, errors.New("limit exceeds maximum")
	}

	return limit, nil
}
