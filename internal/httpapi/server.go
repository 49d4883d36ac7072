package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evtrack/internal/logger"
	"evtrack/pkg/api"
	"evtrack/pkg/model"
	"evtrack/pkg/rulespec"
)

const maxBody = 1 << 20

// Options 服务器选项
type Options struct {
	AllowedOrigins []string
	// SandboxRate 每个 IP 每分钟的沙盒请求上限，<=0 时不限流
	SandboxRate int
}

// Server 管理接口
type Server struct {
	svc    api.Service
	router *chi.Mux
	opts   Options
	log    logger.Logger
}

// New 创建管理接口
func New(svc api.Service, opts Options, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	s := &Server{svc: svc, router: chi.NewRouter(), opts: opts, log: l}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleListEvents)
		r.Route("/events/{fp}", func(r chi.Router) {
			r.Post("/track", s.handleTrack)
			r.Post("/ignore", s.handleIgnore)
			r.Put("/alias", s.handleAlias)
			r.Delete("/", s.handleUntrack)
		})

		r.Get("/sessions", s.handleListSessions)
		r.Delete("/sessions/{id}", s.handleDeleteSession)

		r.Get("/recorder", s.handleRecorder)
		r.Post("/recorder/start", s.handleStart)
		r.Post("/recorder/stop", s.handleStop)
		r.Put("/recorder/settings", s.handleSettings)

		r.Get("/rules", s.handleRules)
		r.Put("/rules", s.handleLoadRules)
		r.Get("/rules/stats", s.handleRuleStats)
		r.Get("/handlers", s.handleHandlers)

		r.Group(func(r chi.Router) {
			if s.opts.SandboxRate > 0 {
				r.Use(httprate.LimitByIP(s.opts.SandboxRate, time.Minute))
			}
			r.Post("/sandbox", s.handleSandbox)
		})
	})
}

// ServeHTTP 实现 http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe 监听地址直到 ctx 结束，随后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("管理接口已启动", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.log.Info("管理接口已关闭")
	return nil
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP 请求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"requestID", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.ListEvents(r.Context(), model.Status(r.URL.Query().Get("status")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	s.curate(w, r, s.svc.Track)
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	s.curate(w, r, s.svc.Ignore)
}

func (s *Server) handleUntrack(w http.ResponseWriter, r *http.Request) {
	s.curate(w, r, s.svc.Untrack)
}

func (s *Server) curate(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	fp := pathParam(r, "fp")
	if err := fn(r.Context(), fp); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlias(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Alias string `json:"alias"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.SetAlias(r.Context(), pathParam(r, "fp"), body.Alias); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.DeleteSession(r.Context(), model.SessionID(pathParam(r, "id")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type recorderView struct {
	model.RecorderStatus
	Entries []model.CandidateEvent `json:"entries"`
}

func (s *Server) handleRecorder(w http.ResponseWriter, r *http.Request) {
	entries := s.svc.Entries()
	if entries == nil {
		entries = []model.CandidateEvent{}
	}
	writeJSON(w, http.StatusOK, recorderView{RecorderStatus: s.svc.RecordingState(), Entries: entries})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewSession bool `json:"newSession"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if _, err := s.svc.StartRecording(r.Context(), body.NewSession); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.RecordingState())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.StopRecording(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.RecordingState())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	st := s.svc.RecordingState().Settings
	if err := decode(r, &st); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.UpdateSettings(r.Context(), st); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Rules())
}

func (s *Server) handleLoadRules(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: read body: %v", api.ErrInvalidArgument, err))
		return
	}
	rs, err := rulespec.Parse(data)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err))
		return
	}
	if err := s.svc.LoadRules(rs); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Rules())
}

func (s *Server) handleRuleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.RuleStats())
}

func (s *Server) handleHandlers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.HandlerStates())
}

func (s *Server) handleSandbox(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: read body: %v", api.ErrInvalidArgument, err))
		return
	}
	res, err := s.svc.TestEvent(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, api.ErrInvalidArgument), errors.Is(err, rulespec.ErrInvalidRule):
		status = http.StatusBadRequest
	case errors.Is(err, api.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, api.ErrSessionActive):
		status = http.StatusConflict
	default:
		s.log.Error("管理接口请求失败", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", api.ErrInvalidArgument, err)
	}
	return nil
}

// pathParam 读取路径参数；指纹中常含 # 与空格，客户端需转义
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}
