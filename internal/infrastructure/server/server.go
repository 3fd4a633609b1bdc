// Package server assembles the HTTP and gRPC listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	apihttp "github.com/prezlab/nasma/backend/internal/api/http"
	"github.com/prezlab/nasma/backend/internal/api/middleware"
	"github.com/prezlab/nasma/backend/internal/api/ws"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/infrastructure/monitoring"
	"github.com/prezlab/nasma/backend/internal/infrastructure/tracing"
)

// StreamPath is the websocket route. It bypasses response compression,
// the upgrade needs the raw connection.
const StreamPath = "/chat/stream"

// ServiceName is reported by the gRPC health service.
const ServiceName = "nasma.Chat"

// Deps are the request handlers and shared instrumentation.
type Deps struct {
	Handlers *apihttp.Handlers
	Stream   *ws.Handler
	Metrics  *monitoring.Metrics
	Tracer   *tracing.Tracer
	// DocsDir is served under the documents base URL.
	DocsDir string
	Logger  *zap.Logger
}

// Server wraps the HTTP server and the gRPC health endpoint
type Server struct {
	cfg    *config.Config
	router *gin.Engine
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// New builds the routes and middleware chain.
func New(cfg *config.Config, d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if d.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(d.Tracer))
	}
	if d.Metrics != nil {
		router.Use(monitoring.Middleware(d.Metrics))
	}
	cors := middleware.DefaultCORSConfig().WithOrigins(cfg.Server.CORSOrigins)
	router.Use(middleware.CORS(cors))
	if cfg.RateLimit.Enabled {
		log.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	if d.Handlers != nil {
		d.Handlers.Register(router)
	}
	if d.Stream != nil {
		router.GET(StreamPath, d.Stream.HandleConnection)
	}
	if d.DocsDir != "" {
		router.Static(documentsPath(cfg.Docs.BaseURL), d.DocsDir)
	}

	s := &Server{cfg: cfg, router: router, log: log}
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           compress(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.GRPC.Enabled {
		s.health = health.NewServer()
		s.grpc = grpc.NewServer(grpcOptions(d.Tracer)...)
		healthpb.RegisterHealthServer(s.grpc, s.health)
	}
	return s
}

func grpcOptions(tracer *tracing.Tracer) []grpc.ServerOption {
	if tracer == nil {
		return nil
	}
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)),
		grpc.StreamInterceptor(tracing.GRPCStreamInterceptor(tracer)),
	}
}

// documentsPath turns the configured documents URL into a route prefix.
// Absolute URLs keep only their path.
func documentsPath(base string) string {
	if i := strings.Index(base, "://"); i >= 0 {
		rest := base[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			base = rest[j:]
		} else {
			base = ""
		}
	}
	base = "/" + strings.Trim(base, "/")
	if base == "/" {
		return "/documents"
	}
	return base
}

// compress gzips responses except on the websocket route.
func compress(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == StreamPath {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Handler exposes the full HTTP handler chain.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// RunGRPC serves the health endpoint until Shutdown is called. It returns
// immediately when gRPC is disabled.
func (s *Server) RunGRPC() error {
	if s.grpc == nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.cfg.GRPC.Address, err)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.log.Info("Starting gRPC health server", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc server: %w", err)
	}
	return nil
}

// Shutdown marks the service as not serving and drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server...")
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpc != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpc.Stop()
		}
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
