package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ecfan"

var (
	Temperature = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last temperature read for each fan.",
		},
		[]string{"fan"},
	)
	FanSpeed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fan_speed_raw",
			Help:      "Last fan speed value written by the tick loop.",
		},
		[]string{"fan"},
	)
	FanRPM = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fan_rpm",
			Help:      "Last tachometer reading, -1 when unavailable.",
		},
		[]string{"fan"},
	)
	CurveStep = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curve_step",
			Help:      "Current hysteresis step of each fan.",
		},
		[]string{"fan"},
	)
	FullBlast = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "full_blast",
			Help:      "1 while full blast is forced on.",
		},
	)
	RegisterWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_writes_total",
			Help:      "EC register writes by source and result.",
		},
		[]string{"source", "result"},
	)
	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "IPC commands handled by kind and result.",
		},
		[]string{"kind", "result"},
	)
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(Temperature, FanSpeed, FanRPM, CurveStep, FullBlast, RegisterWrites, Commands, requestCounter)
}

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func Handler() http.Handler { return promhttp.Handler() }

// Middleware counts requests by their chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		requestCounter.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket endpoint upgrade through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
