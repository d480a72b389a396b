// Package transport exposes publishers over HTTP as Server-Sent Events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ssebot/internal/sse"
	"ssebot/internal/sse/router"
	"ssebot/internal/validator"
)

// Config holds the HTTP transport settings.
type Config struct {
	Addr       string `env:"HTTP_ADDR" envDefault:":8080"`
	SinkBuffer int    `env:"SINK_BUFFER" envDefault:"64"`
}

// Server serves the subscribe and publish endpoints.
type Server struct {
	router     *router.Router
	sinkBuffer int
	logger     *zap.Logger
	server     *http.Server

	// streams is the base context of every request; cancelling it ends
	// open event streams so Shutdown does not wait on them.
	streams      context.Context
	closeStreams context.CancelFunc
}

// NewServer creates the transport. Nothing listens until Start.
func NewServer(config Config, r *router.Router, logger *zap.Logger) (*Server, error) {
	if err := validator.Validate("sse transport", config.Addr, config.SinkBuffer, r, logger); err != nil {
		return nil, fmt.Errorf("failed to validate sse transport deps: %w", err)
	}

	s := &Server{
		router:     r,
		sinkBuffer: config.SinkBuffer,
		logger:     logger.Named("sse-transport"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse/subscribe", s.subscribe)
	mux.HandleFunc("POST /sse/publish", s.publish)

	s.streams, s.closeStreams = context.WithCancel(context.Background())
	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.streams },
	}

	return s, nil
}

// Handler returns the HTTP handler of the transport.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting sse transport", zap.String("addr", s.server.Addr))

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("sse transport failed: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Stop(context.WithoutCancel(ctx))
	}
}

// Stop ends open streams and gracefully stops the transport.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping sse transport")
	s.closeStreams()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to gracefully shutdown sse transport", zap.Error(err))
		return err
	}

	return nil
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID, err := strconv.ParseUint(q.Get("userId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "userId must be an unsigned integer")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	md := sse.Metadata{}
	if streamID := q.Get(sse.StreamIDKey); streamID != "" {
		md[sse.StreamIDKey] = streamID
	}
	types := q["type"]

	ctx := r.Context()
	sub := sse.NewSubscriber(userID, uuid.NewString(), md, s.sinkBuffer, types...)
	logger := s.logger.With(zap.Uint64("userId", userID), zap.String("streamId", md[sse.StreamIDKey]))

	attached, err := s.router.Subscribe(ctx, sub, types...)
	if err != nil {
		logger.Warn("subscription rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer func() {
		sub.Close()
		s.router.Unsubscribe(context.WithoutCancel(ctx), sub, attached)
		logger.Debug("stream closed")
	}()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(": connected\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			logger.Debug("subscriber evicted")
			return
		case e := <-sub.Events():
			if err := writeEvent(w, e); err != nil {
				logger.Debug("failed to write event", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent formats e as one SSE frame.
func writeEvent(w http.ResponseWriter, e sse.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event %d: %w", e.ID, err)
	}

	frame := fmt.Sprintf("id: %d\nevent: %s\n", e.ID, e.Type)
	if e.Retry > 0 {
		frame += fmt.Sprintf("retry: %d\n", e.Retry)
	}
	frame += "data: " + string(data) + "\n\n"

	_, err = w.Write([]byte(frame))
	return err
}

type publishRequest struct {
	Event    string       `json:"event"`
	Retry    int64        `json:"retry"`
	Data     sse.Payload  `json:"data"`
	Metadata sse.Metadata `json:"metadata"`
}

type publishResponse struct {
	ID        uint64 `json:"id"`
	Matched   int    `json:"matched"`
	Delivered int    `json:"delivered"`
	Evicted   int    `json:"evicted"`
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	e := sse.Event{Type: req.Event, Retry: req.Retry, Data: req.Data, Metadata: req.Metadata}
	e, d, err := s.router.Publish(r.Context(), e)
	switch {
	case err == nil:
	case errors.Is(err, sse.ErrUnknownEventType):
		writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		s.logger.Error("failed to publish event", zap.String("eventType", req.Event), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "publish failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(publishResponse{
		ID:        e.ID,
		Matched:   d.Matched,
		Delivered: d.Delivered,
		Evicted:   d.Evicted,
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
