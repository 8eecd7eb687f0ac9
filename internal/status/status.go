// Package status exposes runtime health and connection-quality metrics of
// spec §4.14 over a small Echo HTTP surface, generalized from bken's
// APIServer.
package status

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"nymquest/internal/nethealth"
	"nymquest/internal/retry"
)

// Source supplies the live values the status endpoints report. The server
// and client mains each provide their own implementation.
type Source interface {
	PlayerCount() int
	Health() *nethealth.Monitor
	Retries() *retry.Tracker
	Uptime() time.Duration
}

// Monitor serves /health and /metrics over HTTP.
type Monitor struct {
	src  Source
	echo *echo.Echo
}

// New constructs a Monitor and registers its routes.
func New(src Source) *Monitor {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[status] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))

	m := &Monitor{src: src, echo: e}
	e.GET("/health", m.handleHealth)
	e.GET("/metrics", m.handleMetrics)
	return m
}

// Run starts the HTTP server on addr and blocks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context, addr string) {
	go func() {
		if err := m.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[status] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[status] shutdown: %v", err)
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Players int    `json:"players"`
	Uptime  string `json:"uptime"`
}

func (m *Monitor) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Players: m.src.PlayerCount(),
		Uptime:  humanize.RelTime(time.Now().Add(-m.src.Uptime()), time.Now(), "ago", ""),
	})
}

// MetricsResponse is the payload for GET /metrics: player count, connection
// quality, send success rate, and in-flight retry/latency stats.
type MetricsResponse struct {
	Players           int      `json:"players"`
	ConnectionQuality string   `json:"connection_quality"`
	SuccessRate        float64  `json:"success_rate"`
	PendingRetries     int      `json:"pending_retries"`
	RecentLatenciesMS  []int64  `json:"recent_latencies_ms"`
	MedianLatency      string   `json:"median_latency"`
}

func (m *Monitor) handleMetrics(c echo.Context) error {
	h := m.src.Health()
	quality := "unknown"
	rate := 1.0
	if h != nil {
		quality = string(h.Classify())
		rate = h.SuccessRate()
	}

	var latenciesMS []int64
	var median string
	if rt := m.src.Retries(); rt != nil {
		for _, d := range rt.RecentLatencies() {
			latenciesMS = append(latenciesMS, d.Milliseconds())
		}
		if len(latenciesMS) > 0 {
			sorted := append([]int64(nil), latenciesMS...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			median = fmt.Sprintf("%dms", sorted[len(sorted)/2])
		}
	}

	pending := 0
	if rt := m.src.Retries(); rt != nil {
		pending = rt.Len()
	}

	return c.JSON(http.StatusOK, MetricsResponse{
		Players:           m.src.PlayerCount(),
		ConnectionQuality: quality,
		SuccessRate:       rate,
		PendingRetries:    pending,
		RecentLatenciesMS: latenciesMS,
		MedianLatency:     median,
	})
}
