package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"i4.energy/across/esplink/at"
	"i4.energy/across/esplink/esp"
)

// Server handles incoming HTTP requests for interacting with the
// configured module. The driver has a single owner, so every request holds
// mu for the duration of its exchange.
type Server struct {
	Logger *slog.Logger
	Driver *esp.Driver

	mu sync.Mutex
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("GET /receive", s.handleReceive)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// statusCode maps a driver error to an HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, esp.ErrEncoding):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, esp.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, esp.ErrAlreadyClosed), errors.Is(err, esp.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// handleStatus reports the module's connectivity state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	state, err := s.Driver.CIPStatus()
	s.mu.Unlock()

	if err != nil {
		s.Logger.Error("Failed to query status", "error", err)
		s.sendError(w, err.Error(), statusCode(err))
		return
	}

	type StatusResponse struct {
		State string `json:"state"`
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{State: state.String()})
}

// handleSend writes the request body to the open server session
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, at.MaxPayloadLen+1))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(payload) == 0 {
		s.sendError(w, "request body is empty", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	err = s.Driver.Send(payload)
	s.mu.Unlock()

	if err != nil {
		s.Logger.Error("Failed to send payload", "error", err, "bytes", len(payload))
		s.sendError(w, err.Error(), statusCode(err))
		return
	}

	s.Logger.Info("Payload sent", "bytes", len(payload))
	w.WriteHeader(http.StatusOK)
}

// handleReceive returns the oldest payload received from the server
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	payload, err := s.Driver.CIPReceive()
	s.mu.Unlock()

	if errors.Is(err, esp.ErrNoData) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.Logger.Error("Failed to receive payload", "error", err)
		s.sendError(w, err.Error(), statusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(payload)
}
