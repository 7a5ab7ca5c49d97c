package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/norasector/vnacore/pkg/instrument"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Instrument is what the monitor reports on. *instrument.VirtualDevice implements it.
type Instrument interface {
	Serial() string
	IsCompoundDevice() bool
	Info() types.Info
	Status() types.Status
	Mode() instrument.Mode
	Stats() instrument.Stats
	Latest() *types.TaggedMeasurement
	AvailableVNAMeasurements() []string
	AvailableSAMeasurements() []string
}

// Server exposes the state of an instrument as JSON and Prometheus metrics.
type Server struct {
	inst     Instrument
	port     int
	srv      *http.Server
	registry *prometheus.Registry
	logger   zerolog.Logger
}

func NewServer(port int, inst Instrument) *Server {
	s := &Server{
		inst:     inst,
		port:     port,
		srv:      &http.Server{Addr: fmt.Sprintf(":%d", port)},
		registry: prometheus.NewRegistry(),
		logger:   log.Logger.With().Int("port", port).Logger(),
	}
	s.registry.MustRegister(newCollectors(inst)...)
	s.srv.Handler = s.Handler()
	return s
}

// Registry returns the registry serving /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

type statusResponse struct {
	Serial string           `json:"serial"`
	Mode   string           `json:"mode"`
	Status types.Status     `json:"status"`
	Stats  instrument.Stats `json:"stats"`
}

type infoResponse struct {
	Serial          string     `json:"serial"`
	Compound        bool       `json:"compound"`
	Info            types.Info `json:"info"`
	VNAMeasurements []string   `json:"vna_measurements"`
	SAMeasurements  []string   `json:"sa_measurements"`
}

type measurementResponse struct {
	Serial       string                 `json:"serial"`
	Kind         string                 `json:"kind"`
	Point        uint32                 `json:"point"`
	Frequency    float64                `json:"frequency"`
	DBm          float64                `json:"dbm,omitempty"`
	Us           float64                `json:"us"`
	Z0           float64                `json:"z0,omitempty"`
	Measurements map[string]interface{} `json:"measurements"`
}

func newMeasurementResponse(m *types.TaggedMeasurement) measurementResponse {
	ret := measurementResponse{Serial: m.Serial, Measurements: make(map[string]interface{})}
	if m.VNA != nil {
		ret.Kind = "vna"
		ret.Point = m.VNA.PointNum
		ret.Frequency = m.VNA.Frequency
		ret.DBm = m.VNA.DBm
		ret.Us = m.VNA.Us
		ret.Z0 = m.VNA.Z0
		for name, v := range m.VNA.Measurements {
			ret.Measurements[name] = [2]float64{real(v), imag(v)}
		}
		return ret
	}
	ret.Kind = "sa"
	ret.Point = m.SA.PointNum
	ret.Frequency = m.SA.Frequency
	ret.Us = m.SA.Us
	for name, v := range m.SA.Measurements {
		ret.Measurements[name] = v
	}
	return ret
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("error writing response")
	}
}

func (s *Server) Handler() http.Handler {
	handler := httprouter.New()
	handler.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Location", "/status")
		w.WriteHeader(http.StatusFound)
	})

	handler.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.writeJSON(w, statusResponse{
			Serial: s.inst.Serial(),
			Mode:   s.inst.Mode().String(),
			Status: s.inst.Status(),
			Stats:  s.inst.Stats(),
		})
	})

	handler.GET("/info", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.writeJSON(w, infoResponse{
			Serial:          s.inst.Serial(),
			Compound:        s.inst.IsCompoundDevice(),
			Info:            s.inst.Info(),
			VNAMeasurements: s.inst.AvailableVNAMeasurements(),
			SAMeasurements:  s.inst.AvailableSAMeasurements(),
		})
	})

	handler.GET("/measurements/latest", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		m := s.inst.Latest()
		if m == nil || (m.VNA == nil && m.SA == nil) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.writeJSON(w, newMeasurementResponse(m))
	})

	handler.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return handler
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	s.logger.Info().Msg("monitor server starting")
	err := s.srv.ListenAndServe()
	switch {
	case err == http.ErrServerClosed:
		return nil
	default:
		return err
	}
}
