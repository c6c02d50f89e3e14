package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stabolut/native/engine"
	"stabolut/native/token"
)

// Server exposes the daemon's operational surface: health and status reads
// plus Prometheus metrics. All mutating operations stay on the module APIs.
type Server struct {
	token    *token.Controller
	engine   *engine.Engine
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// NewServer wires the read-only HTTP surface over the supplied modules.
func NewServer(ctrl *token.Controller, eng *engine.Engine) *Server {
	s := &Server{
		token:    ctrl,
		engine:   eng,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stabolut_http_requests_total",
			Help: "HTTP requests served, by path and status code.",
		}, []string{"path", "code"}),
	}
	s.registry.MustRegister(s.requests)
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "stabolut_token_total_supply",
		Help: "Circulating USB supply in base units.",
	}, func() float64 {
		supply, err := s.token.TotalSupply()
		if err != nil {
			return 0
		}
		return bigFloat(supply)
	}))
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "stabolut_engine_total_value_locked",
		Help: "USD value tracked across open positions.",
	}, func() float64 {
		tvl, err := s.engine.TotalValueLocked()
		if err != nil {
			return 0
		}
		return bigFloat(tvl)
	}))
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "stabolut_engine_total_yield_generated",
		Help: "Accumulated realised strategy yield in raw asset units.",
	}, func() float64 {
		yield, err := s.engine.TotalYieldGenerated()
		if err != nil {
			return 0
		}
		return bigFloat(yield)
	}))
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "stabolut_engine_paused",
		Help: "1 while deposits and withdrawals are halted.",
	}, func() float64 {
		paused, err := s.engine.IsPaused()
		if err != nil || !paused {
			return 0
		}
		return 1
	}))
	return s
}

// Handler builds the chi router serving the operational endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(recorder, r)
		s.requests.WithLabelValues(r.URL.Path, strconv.Itoa(recorder.Status())).Inc()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	TotalSupply         string   `json:"totalSupply"`
	MaxSupply           string   `json:"maxSupply"`
	TokenPaused         bool     `json:"tokenPaused"`
	EnginePaused        bool     `json:"enginePaused"`
	TotalValueLocked    string   `json:"totalValueLocked"`
	TotalYieldGenerated string   `json:"totalYieldGenerated"`
	CollateralAssets    []string `json:"collateralAssets"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	info, err := s.token.SupplyInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	tvl, err := s.engine.TotalValueLocked()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	yield, err := s.engine.TotalYieldGenerated()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	enginePaused, err := s.engine.IsPaused()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	assets, err := s.engine.CollateralAssets()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := statusResponse{
		TotalSupply:         info.TotalSupply.String(),
		MaxSupply:           info.MaxSupply.String(),
		TokenPaused:         info.Paused,
		EnginePaused:        enginePaused,
		TotalValueLocked:    tvl.String(),
		TotalYieldGenerated: yield.String(),
		CollateralAssets:    assets,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func bigFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}
