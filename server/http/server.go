// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

// Package http adapts the replay engine's operations onto a JSON
// request/response boundary.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/rewindmq/rewind/logstore"
	"github.com/rewindmq/rewind/replay"
)

// Config holds configuration for the HTTP server.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Server exposes fetch, replay, publish, and health endpoints.
type Server struct {
	config Config
	engine *replay.Engine
	logger *slog.Logger
	server *http.Server
}

// New creates a new HTTP server over the replay engine.
func New(cfg Config, engine *replay.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		engine: engine,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/replay", s.handleReplay)
	mux.HandleFunc("/publish", s.handlePublish)
	mux.HandleFunc("/health", s.handleHealth)

	h2s := &http2.Server{}
	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      h2c.NewHandler(mux, h2s),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Listen starts the HTTP server and blocks until ctx is cancelled or
// the server fails.
func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("replay API starting", slog.String("addr", s.config.Address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("replay API shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("replay API shutdown error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("replay API stopped")
		return nil
	}
}

// wireMessage is the published JSON representation of a message.
type wireMessage struct {
	Offset      int64                       `json:"offset"`
	Transaction *logstore.TransactionHeader `json:"transaction"`
	Timestamp   string                      `json:"timestamp"`
	Data        string                      `json:"data"`
}

func toWire(msg logstore.Message) wireMessage {
	return wireMessage{
		Offset:      int64(msg.Offset),
		Transaction: msg.Transaction,
		Timestamp:   msg.Timestamp.UTC().Format(time.RFC3339),
		Data:        string(msg.Data),
	}
}

func toWireList(msgs []logstore.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = toWire(msg)
	}
	return out
}

// handleMessages serves GET /messages?queue=&from=&to=.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	req := replay.Request{Queue: q.Get("queue")}
	if req.Queue == "" {
		http.Error(w, "queue is required", http.StatusBadRequest)
		return
	}

	var err error
	if req.From, err = parseTime(q.Get("from")); err != nil {
		http.Error(w, fmt.Sprintf("invalid from: %v", err), http.StatusBadRequest)
		return
	}
	if req.To, err = parseTime(q.Get("to")); err != nil {
		http.Error(w, fmt.Sprintf("invalid to: %v", err), http.StatusBadRequest)
		return
	}

	msgs, err := s.engine.Fetch(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toWireList(msgs))
}

// replayRequest is the POST /replay body. Exactly one of the time range
// or the transaction id selects messages; when both are present the
// time range wins.
type replayRequest struct {
	Queue       string     `json:"queue"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	Transaction string     `json:"transaction,omitempty"`
	Target      string     `json:"target,omitempty"`
}

// handleReplay serves POST /replay.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body replayRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	job, replayed, err := s.engine.Replay(r.Context(), replay.Request{
		Queue:       body.Queue,
		From:        body.From,
		To:          body.To,
		Transaction: body.Transaction,
		Target:      body.Target,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Debug("replay served",
		slog.String("job", job.ID),
		slog.Int("messages", len(replayed)))

	w.Header().Set("Replay-Job-Id", job.ID)
	s.writeJSON(w, http.StatusCreated, toWireList(replayed))
}

// publishRequest is the POST /publish body.
type publishRequest struct {
	Queue       string                      `json:"queue"`
	Data        string                      `json:"data"`
	Transaction *logstore.TransactionHeader `json:"transaction,omitempty"`
}

// handlePublish serves POST /publish, the ingestion path.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body publishRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if body.Queue == "" {
		http.Error(w, "queue is required", http.StatusBadRequest)
		return
	}

	msg, err := s.engine.Publish(r.Context(), body.Queue, []byte(body.Data), body.Transaction)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toWire(msg))
}

// handleHealth reports whether the backing log is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Healthy(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encoding failed", slog.String("error", err.Error()))
	}
}

// writeError maps engine errors onto the boundary's status codes.
// Internal failures are logged in full and surfaced opaquely.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, replay.ErrInvalidRequest) || errors.Is(err, logstore.ErrEmptyPayload):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, replay.ErrQueueNotFound) || errors.Is(err, logstore.ErrQueueNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": replay.ErrQueueNotFound.Error()})
	case errors.Is(err, replay.ErrTransactionNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
