// Package api serves the engine status over HTTP and gRPC health checks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/engine/negotiator"
	"GoKmerSpectra/internal/model"
)

// HealthService is the gRPC health service name reported by the engine.
const HealthService = "kmc.engine"

// StatusSource exposes the counting statistics.
type StatusSource interface {
	Joined() bool
	Stats() model.Stats
	DeviceCount() int
	DeviceStats(i int) (model.Stats, bool)
}

// DeviceSource exposes the negotiator's view of the devices.
type DeviceSource interface {
	Snapshot() []negotiator.DeviceInfo
}

// StatsResponse is the body of GET /api/v1/stats once counting is done.
type StatsResponse struct {
	State   string        `json:"state"`
	Total   model.Stats   `json:"total"`
	Devices []model.Stats `json:"devices"`
}

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	status   StatusSource
	devices  DeviceSource
	gatherer prometheus.Gatherer
}

func NewAPIHandler(status StatusSource, devices DeviceSource, gatherer prometheus.Gatherer) *APIHandler {
	return &APIHandler{status: status, devices: devices, gatherer: gatherer}
}

// Router returns the HTTP routes of the engine.
func (h *APIHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/stats", h.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/devices", h.devicesHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// statsHandler answers 503 until every device is done; the counters are not
// meaningful before.
func (h *APIHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	if !h.status.Joined() {
		writeJSON(w, http.StatusServiceUnavailable, StatsResponse{State: "counting"})
		return
	}
	resp := StatsResponse{State: "done", Total: h.status.Stats()}
	for i := 0; i < h.status.DeviceCount(); i++ {
		s, _ := h.status.DeviceStats(i)
		resp.Devices = append(resp.Devices, s)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) devicesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.devices.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonBytes)
}

// Server runs the HTTP routes and the gRPC health service.
type Server struct {
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	cfg    config.APIConfig
	log    logr.Logger
}

func NewServer(cfg config.APIConfig, handler *APIHandler, log logr.Logger) *Server {
	s := &Server{
		http:   &http.Server{Addr: cfg.ListenAddr, Handler: handler.Router()},
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		cfg:    cfg,
		log:    log.WithName("api"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Start listens on the configured addresses. An empty address disables that
// listener.
func (s *Server) Start() error {
	if s.cfg.ListenAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", s.cfg.ListenAddr, err)
		}
		go func() {
			s.log.Info("API server starting", "addr", lis.Addr().String())
			if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error(err, "API server stopped")
			}
		}()
	}
	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", s.cfg.GRPCAddr, err)
		}
		go func() {
			s.log.Info("gRPC health server starting", "addr", lis.Addr().String())
			if err := s.grpc.Serve(lis); err != nil {
				s.log.Error(err, "gRPC server stopped")
			}
		}()
	}
	return nil
}

// SetServing flips the reported health of the engine.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(HealthService, status)
}

// HealthServer is exposed for in-process checks.
func (s *Server) HealthServer() healthpb.HealthServer {
	return s.health
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	err := s.http.Shutdown(ctx)
	s.grpc.GracefulStop()
	return err
}
