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

	"epdtouch/internal/battery"
	"epdtouch/internal/config"
	appLog "epdtouch/internal/log"
	"epdtouch/internal/screen"
	"epdtouch/internal/touch"
)

// Screen is the part of *screen.Screen the API reads and nudges.
type Screen interface {
	Snapshot() screen.Status
	ForceFull()
}

// UI is the part of *ui.Runtime the API drives. Calls into HandleTouch and
// Redraw are made from inside Do so they run on the UI goroutine.
type UI interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	HandleTouch(ctx context.Context, ev touch.Event) (bool, error)
	Redraw(ctx context.Context) error
}

// Server provides the debug HTTP API: health, the last frame as PNG, panel
// and battery status, injected touches and forced refreshes.
type Server struct {
	cfg     *config.Config
	screen  Screen
	ui      UI
	battery *battery.Cache
	mux     *http.ServeMux
}

// NewServer constructs a new Server. bat may be nil.
func NewServer(cfg *config.Config, scr Screen, u UI, bat *battery.Cache) *Server {
	s := &Server{
		cfg:     cfg,
		screen:  scr,
		ui:      u,
		battery: bat,
		mux:     http.NewServeMux(),
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
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
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
			w.Header().Set("WWW-Authenticate", `Basic realm="epdtouch", charset="UTF-8"`)
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

// Serve runs an HTTP server on cfg.Listen until ctx is canceled, then shuts
// it down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/battery", s.handleBattery)
	s.mux.HandleFunc("/api/touch", s.handleTouch)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last frame sent to the panel as PNG, in the
// landscape orientation the UI draws in.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	frame := s.screen.Snapshot().Frame
	if frame == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := imaging.Encode(w, frame, imaging.PNG); err != nil {
		appLog.Error("preview encode failed", err)
	}
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Screen  screen.Status   `json:"screen"`
	Frame   *frameInfo      `json:"frame,omitempty"`
	Battery *battery.Status `json:"battery,omitempty"`
}

type frameInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.screen.Snapshot()
	resp := statusResponse{Screen: st}
	if st.Frame != nil {
		b := st.Frame.Bounds()
		resp.Frame = &frameInfo{Width: b.Dx(), Height: b.Dy()}
	}
	if s.battery != nil {
		if bs, err := s.battery.Get(r.Context()); err == nil {
			resp.Battery = &bs
		} else {
			appLog.Warn("battery read failed", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBattery exposes current battery status (percent, voltage).
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.battery == nil {
		writeError(w, http.StatusNotFound, "battery gauge not configured")
		return
	}
	st, err := s.battery.Get(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// touchRequest is either a tap at (x, y) or, with dx/dy set, a swipe
// starting there. Coordinates are landscape frame pixels.
type touchRequest struct {
	X  int `json:"x"`
	Y  int `json:"y"`
	DX int `json:"dx"`
	DY int `json:"dy"`
}

func (t touchRequest) event() touch.Event {
	ev := touch.Event{Kind: touch.Tap, Point: image.Pt(t.X, t.Y)}
	if t.DX != 0 || t.DY != 0 {
		ev.Kind = touch.Swipe
		ev.Delta = image.Pt(t.DX, t.DY)
	}
	return ev
}

// handleTouch injects a gesture as if it came from the touch panel.
//
// POST /api/touch {"x":10,"y":10} or {"x":100,"y":100,"dy":-50}
func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req touchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ev := req.event()

	var handled bool
	err := s.ui.Do(r.Context(), func(ctx context.Context) error {
		h, err := s.ui.HandleTouch(ctx, ev)
		handled = h
		return err
	})
	if err != nil {
		appLog.Error("injected touch failed", err, "kind", ev.Kind)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	appLog.Debug("injected touch", "kind", ev.Kind, "point", ev.Point, "handled", handled)
	writeJSON(w, http.StatusOK, map[string]bool{"handled": handled})
}

// handleRefresh redraws the active screen. ?full=1 makes it a full refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if r.URL.Query().Get("full") == "1" {
		s.screen.ForceFull()
	}
	if err := s.ui.Do(r.Context(), s.ui.Redraw); err != nil {
		appLog.Error("refresh failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
