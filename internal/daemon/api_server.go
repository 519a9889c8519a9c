package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"rollcall/internal/api"
	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/scheduler"
)

const (
	defaultAttendanceLimit = 50
	defaultLogLimit        = 200
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.API.Bind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.API.Token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for followed log fetches and manual captures.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(authMiddleware(token))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/info", s.handleCommand(scheduler.ShowInfo))
		r.Get("/cameras", s.handleCameras)
		r.Post("/cameras/switch", s.handleSwitch)
		r.Post("/cameras/rescan", s.handleCommand(scheduler.Rescan))
		r.Post("/capture", s.handleCommand(scheduler.ManualCapture))
		r.Post("/quit", s.handleCommand(scheduler.Quit))
		r.Get("/templates", s.handleTemplates)
		r.Post("/templates/reload", s.handleReloadTemplates)
		r.Get("/attendance", s.handleAttendance)
		r.Get("/logs", s.handleLogs)
	})
	return r
}

// listen binds the control socket so bind errors surface from Start.
func (s *apiServer) listen() error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	return nil
}

func (s *apiServer) serve(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	errs := make(chan error, 1)
	go func() {
		errs <- s.server.Serve(s.listener)
	}()
	s.logger.Info("api server listening", logging.String("address", s.listener.Addr().String()))

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
		_ = s.server.Close()
	}
	<-errs
	return nil
}

func (s *apiServer) address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
			logging.String("request_id", chiMiddleware.GetReqID(r.Context())),
		)
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.daemon.Status()
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		RunID:        status.RunID,
		StartedAt:    formatStarted(status.StartedAt),
		LogPath:      status.LogPath,
		LockFilePath: status.LockFilePath,
		Loop:         api.FromLoopStatus(status.Loop),
		Camera:       api.FromCameraInfo(status.Camera),
		Templates:    api.FromSnapshot(status.Templates, status.LastLoad, false),
		Preflight:    api.FromCheckResults(status.Preflight),
	}
	if status.Attendance.Enabled {
		payload.Attendance = api.FromAttendanceStats(status.Attendance.Mode, status.Attendance.Store, status.Attendance.Stats)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func formatStarted(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *apiServer) handleCameras(w http.ResponseWriter, _ *http.Request) {
	info := s.daemon.Cameras()
	s.writeJSON(w, http.StatusOK, api.CameraList{
		ActiveID: info.ActiveID,
		Cameras:  api.FromDescriptors(info.Descriptors, info.ActiveID),
	})
}

func (s *apiServer) handleCommand(kind scheduler.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.submit(w, r, kind, nil)
	}
}

func (s *apiServer) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req api.SwitchRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid switch request")
			return
		}
	}
	s.submit(w, r, scheduler.SwitchCamera, req.ID)
}

func (s *apiServer) submit(w http.ResponseWriter, r *http.Request, kind scheduler.CommandKind, cameraID *int) {
	reply, err := s.daemon.Submit(r.Context(), kind, cameraID)
	if err != nil {
		if errors.Is(err, scheduler.ErrNotRunning) {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	status := http.StatusOK
	if !reply.OK {
		status = http.StatusConflict
	}
	s.logger.Info("operator command handled",
		logging.String("command", kind.String()),
		logging.Bool("ok", reply.OK),
		logging.String("result", reply.Message),
	)
	s.writeJSON(w, status, api.FromReply(reply))
}

func (s *apiServer) handleTemplates(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status()
	full := queryBool(r, "full")
	s.writeJSON(w, http.StatusOK, api.FromSnapshot(status.Templates, status.LastLoad, full))
}

func (s *apiServer) handleReloadTemplates(w http.ResponseWriter, r *http.Request) {
	report, err := s.daemon.ReloadTemplates(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSnapshot(s.daemon.Status().Templates, &report, false))
}

func (s *apiServer) handleAttendance(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultAttendanceLimit
	}
	entries, err := s.daemon.RecentMarks(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.AttendanceList{Entries: api.FromEntries(entries)})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: []api.LogEvent{}})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	follow := queryBool(r, "follow")
	component := strings.TrimSpace(query.Get("component"))
	cameraID := strings.TrimSpace(query.Get("camera"))

	var (
		events []logging.LogEvent
		next   uint64
	)
	if queryBool(r, "tail") && since == 0 && !follow {
		events, next = hub.Tail(limit)
	} else {
		var err error
		events, next, err = hub.Fetch(r.Context(), since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	filtered := make([]logging.LogEvent, 0, len(events))
	for _, evt := range events {
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		if cameraID != "" && cameraID != evt.CameraID {
			continue
		}
		filtered = append(filtered, evt)
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{
		Events: api.FromLogEvents(filtered),
		Next:   next,
	})
}

func queryBool(r *http.Request, key string) bool {
	value := r.URL.Query().Get(key)
	return value == "1" || strings.EqualFold(value, "true")
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
