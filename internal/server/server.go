package server

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
)

// ReadyFunc 返回服务是否就绪及当前阶段
type ReadyFunc func() (bool, string)

// Server HTTP服务器
type Server struct {
	log           *zap.Logger
	metricsServer *http.Server
	pprofServer   *http.Server
}

// NewServer 创建HTTP服务器
func NewServer(cfg *config.Config, ready ReadyFunc, log *zap.Logger) *Server {
	s := &Server{log: log}

	// Metrics服务器
	if cfg.Metrics.Enabled {
		s.metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: newMux(cfg.Metrics.Path, ready),
		}
	}

	// Pprof服务器
	if cfg.Pprof.Enabled {
		s.pprofServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Pprof.Port),
			Handler: http.DefaultServeMux, // pprof已自动注册到DefaultServeMux
		}
	}

	return s
}

func newMux(metricsPath string, ready ReadyFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(ready))
	return mux
}

// Start 启动服务器
func (s *Server) Start() error {
	// 启动Metrics服务器
	if s.metricsServer != nil {
		go func() {
			s.log.Info("starting metrics server", zap.String("addr", s.metricsServer.Addr))
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// 启动Pprof服务器
	if s.pprofServer != nil {
		go func() {
			s.log.Info("starting pprof server", zap.String("addr", s.pprofServer.Addr))
			if err := s.pprofServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("pprof server error", zap.Error(err))
			}
		}()
	}

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.log.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(ctx); err != nil {
			s.log.Error("failed to shutdown pprof server", zap.Error(err))
		}
	}

	return nil
}

// healthHandler 健康检查
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyHandler 就绪检查，流水线处于Running阶段时返回200
func readyHandler(ready ReadyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready == nil {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Ready"))
			return
		}

		ok, phase := ready()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not ready: " + phase))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	}
}
