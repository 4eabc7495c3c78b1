package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	rtsup "postbot/internal/runtime/supervisor"
	logx "postbot/pkg/logx"
)

type Config struct {
	Addr string
	// TickToken guards /tick. Empty disables the endpoint.
	TickToken      string
	TickRatePerSec int
	// Pprof mounts /debug/pprof behind the tick token.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Deps are the callbacks the host serves.
type Deps struct {
	// Tick runs one poll iteration and returns how many timers fired.
	Tick func() int
	// Status backs /health?verbose=1. Optional.
	Status func() any
	// Webhook receives telegram updates. Optional.
	Webhook http.Handler
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps
	log  logx.Logger

	limiter *rate.Limiter
	srv     *http.Server
	sup     *rtsup.Supervisor
	addr    string
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.TickRatePerSec
	if rps <= 0 {
		rps = 1
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	return &Service{
		cfg:     cfg,
		deps:    deps,
		log:     log.With(logx.String("comp", "server")),
		limiter: rate.NewLimiter(rate.Limit(rps), rps*5),
	}
}

// Handler builds the router.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) { writeText(w, http.StatusOK, "Bot is running") })
	r.Head("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/health", s.handleHealth)
	r.Get("/tick", s.handleTick)
	if s.deps.Webhook != nil {
		r.Post("/webhook", s.deps.Webhook.ServeHTTP)
	}
	if s.cfg.Pprof && s.cfg.TickToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Mount("/debug", middleware.Profiler())
		})
	}
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("verbose") == "" || s.deps.Status == nil {
		writeText(w, http.StatusOK, "OK")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s.deps.Status())
}

func (s *Service) handleTick(w http.ResponseWriter, r *http.Request) {
	tok := s.cfg.TickToken
	if tok == "" || s.deps.Tick == nil {
		http.NotFound(w, r)
		return
	}
	if !s.tokenOK(r) {
		writeText(w, http.StatusForbidden, "forbidden")
		return
	}
	if !s.limiter.Allow() {
		writeText(w, http.StatusTooManyRequests, "slow down")
		return
	}
	fired := s.deps.Tick()
	s.log.Debug("tick", logx.Int("fired", fired))
	writeText(w, http.StatusOK, "tick")
}

// tokenOK compares the token query parameter in constant time.
func (s *Service) tokenOK(r *http.Request) bool {
	got := r.URL.Query().Get("token")
	return s.cfg.TickToken != "" && subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.TickToken)) == 1
}

func (s *Service) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.tokenOK(r) {
			writeText(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// Addr returns the bound address once listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens and serves under a restarting supervisor. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) serveOnce(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = ":10000"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

// Stop shuts the server down, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	err := sup.Wait(ctx)
	s.log.Info("http server stopped")
	return err
}
