// Package server exposes forwarded lines and capture state over HTTP: a
// Server-Sent Events stream, a websocket tail and a JSON status document.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"scripthost/internal/auth"
	"scripthost/internal/capture"
	"scripthost/internal/sse"
	"scripthost/internal/sysmon"
)

// UnitSource reports capture units. *capture.Capturer implements it.
type UnitSource interface {
	Units() []capture.Stats
}

type Server struct {
	hub   *sse.Hub
	units UnitSource
	auth  *auth.Auth
}

func New(hub *sse.Hub, units UnitSource) *Server {
	disabled, _ := auth.New("")
	return &Server{hub: hub, units: units, auth: disabled}
}

// WithAuth requires a valid token on every route.
func (s *Server) WithAuth(a *auth.Auth) *Server {
	s.auth = a
	return s
}

// Status is the document served at /status.
type Status struct {
	Units   []capture.Stats `json:"units"`
	Clients int             `json:"clients"`
	Process *sysmon.Report  `json:"process,omitempty"`
}

// handlerFunc is the signature of the non-streaming handlers
type handlerFunc func(context.Context, *http.Request) ([]byte, error)

// httpError carries a status code out of a handlerFunc
type httpError struct {
	StatusCode int
	Message    string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// wrapHandler adapts a handlerFunc to http.HandlerFunc
func (s *Server) wrapHandler(contentType string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := h(r.Context(), r)
		if err != nil {
			status := http.StatusInternalServerError
			var he *httpError
			if errors.As(err, &he) {
				status = he.StatusCode
			}
			slog.Error("HTTP handler error",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"error", err.Error())
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", contentType)
		if len(data) > 0 {
			_, _ = w.Write(data)
		}
	}
}

// loggingMiddleware logs each HTTP request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker to support WebSocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}

// Flush implements http.Flusher to support streaming
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.wrapHandler("application/json", s.handleStatus))
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s.loggingMiddleware(s.auth.Middleware(mux))
}

func (s *Server) handleStatus(ctx context.Context, r *http.Request) ([]byte, error) {
	status := Status{
		Units:   s.units.Units(),
		Clients: s.hub.ClientCount(),
	}
	if r.URL.Query().Get("process") != "0" {
		report, err := sysmon.Collect()
		if err != nil {
			return nil, fmt.Errorf("failed to collect process stats: %w", err)
		}
		status.Process = report
	}
	return json.Marshal(status)
}

// handleEvents streams forwarded lines as Server-Sent Events. The optional
// "tag" query parameter restricts the stream to one tag.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := sse.NewClient(r.URL.Query().Get("tag"))
	s.hub.RegisterClient(client)
	defer s.hub.UnregisterClient(client.ID)
	defer close(client.Done)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-client.EventChan:
			data, err := sse.FormatSSE(event)
			if err != nil {
				slog.Error("Failed to format SSE event", "error", err)
				continue
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		// Only same-host origins, to prevent cross-site WebSocket hijacking.
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Allow requests without Origin header (e.g., from native apps)
			return true
		}
		host := r.Host
		if origin == "http://"+host || origin == "https://"+host {
			return true
		}
		slog.Warn("Rejected WebSocket connection from unauthorized origin", "origin", origin, "host", host)
		return false
	},
}

// handleWebSocket sends each forwarded line as a JSON text message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	client := sse.NewClient(r.URL.Query().Get("tag"))
	s.hub.RegisterClient(client)
	defer s.hub.UnregisterClient(client.ID)
	defer close(client.Done)

	// The tail is one-way; reading only notices when the peer goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Error("WebSocket read error", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event := <-client.EventChan:
			if err := conn.WriteJSON(event.Data); err != nil {
				slog.Error("Failed to write WebSocket message", "error", err)
				return
			}
		}
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Streaming handlers only return when their client leaves.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		return nil
	}
}
