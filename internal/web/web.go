// Package web serves the daemon's status over HTTP: health, busy state, the
// last result, battery level and a PNG of the last composed frame.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"epdpi/internal/battery"
	"epdpi/internal/config"
	"epdpi/internal/gate"
	appLog "epdpi/internal/log"
	"epdpi/internal/protocol"
)

// Source is what the server reports on; the dispatcher implements it.
type Source interface {
	LastImage() image.Image
	LastResult() (protocol.Result, time.Time, bool)
	Gate() *gate.Gate
}

// Server provides the status endpoints.
type Server struct {
	cfg      config.WebConfig
	deviceID string
	src      Source
	battery  battery.Reader
	mux      *http.ServeMux
}

// NewServer constructs a new Server. bat may be nil when no gauge is fitted.
func NewServer(cfg config.WebConfig, deviceID string, src Source, bat battery.Reader) *Server {
	s := &Server{
		cfg:      cfg,
		deviceID: deviceID,
		src:      src,
		battery:  bat,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	a := s.cfg.BasicAuth
	// Empty credentials are treated as disabled.
	return a != nil && a.Username != "" && a.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="epdpi", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/battery", s.handleBattery)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// resultDTO is a JSON-friendly view of the last published result.
type resultDTO struct {
	Op      string    `json:"op"`
	Code    int       `json:"code"`
	Status  string    `json:"status"`
	Detail  string    `json:"detail,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	DeviceID   string     `json:"device_id,omitempty"`
	Authorized bool       `json:"authorized"`
	Busy       bool       `json:"busy"`
	BusyError  string     `json:"busy_error,omitempty"`
	LastResult *resultDTO `json:"last_result,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	g := s.src.Gate()
	resp := statusResponse{
		DeviceID:   s.deviceID,
		Authorized: g.Authorized(),
	}

	busy, err := g.Busy(r.Context())
	if err != nil {
		appLog.Error("busy flag read failed", err)
		resp.BusyError = err.Error()
	}
	resp.Busy = busy

	if res, at, ok := s.src.LastResult(); ok {
		resp.LastResult = &resultDTO{
			Op:      string(res.Op),
			Code:    int(res.Code),
			Status:  res.Code.String(),
			Detail:  res.Detail,
			Message: res.Encode(),
			At:      at,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.battery == nil {
		writeError(w, http.StatusNotFound, "battery reader not configured")
		return
	}
	status, err := s.battery.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handlePreview encodes the last composed frame, as drawn before
// quantization.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	img := s.src.LastImage()
	if img == nil {
		writeError(w, http.StatusNotFound, "nothing drawn yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		appLog.Error("preview encode failed", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
