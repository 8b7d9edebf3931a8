// Package ingest exposes the sensing transport over HTTP. Captured events are
// posted as JSON and delivered to a sensor.Delegate.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/bluetrace/internal/encounter"
	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/observability"
	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/sensor"
	"github.com/danmuck/bluetrace/internal/tempid"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	shutdownTimeout  = 5 * time.Second
)

// PayloadSource builds the payloads this node advertises.
type PayloadSource interface {
	Payload(device tempid.Device) ([]byte, error)
	LegacyPayload(device tempid.Device) ([]byte, error)
}

type Config struct {
	ID          string
	Addr        string
	CorsOrigins []string
}

type Option func(*Server)

// WithRateLimit caps sensor events per client at perMinute, with a burst of
// the same size. Streams are limited per connection.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.limiter = newClientLimiter(perMinute)
		}
	}
}

func WithEncounters(l encounter.Lister) Option {
	return func(s *Server) {
		s.encounters = l
	}
}

func WithPayloads(p PayloadSource) Option {
	return func(s *Server) {
		s.payloads = p
	}
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	sink       sensor.Delegate
	encounters encounter.Lister
	payloads   PayloadSource
	limiter    *clientLimiter
	router     *gin.Engine

	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, sink sensor.Delegate, opts ...Option) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.HTTPLogger(cfg.ID)))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       cfg.ID,
		Addr:     cfg.Addr,
		Appeared: time.Now(),
		sink:     sink,
		router:   r,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logging.Infof("ingest.Server.Serve listening id=%q addr=%q", s.ID, s.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.stopOnce.Do(func() { close(s.stop) })
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logging.Infof("ingest.Server.Serve stopped id=%q", s.ID)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": "0.0.1",
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sensors := s.router.Group("/sensor")
	if s.limiter != nil {
		sensors.Use(s.limiter.Middleware())
	}
	for _, event := range Events {
		sensors.POST("/"+event, s.handleEvent(event))
	}
	sensors.GET("/stream", s.handleStream)

	s.router.GET("/encounters", s.handleEncounters)
	s.router.GET("/payload", s.handlePayload)
}

// handleEvent delivers one posted event. Malformed requests are rejected with
// 400 before anything reaches the sink.
func (s *Server) handleEvent(event string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxEventBody)
		raw, err := c.GetRawData()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
				return
			}
			badRequest(c, err)
			return
		}
		target, deliverErr, err := s.apply(event, raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		delivered(c, target, deliverErr)
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// delivered reports the outcome of one delegate call. Sink failures do not
// fail the request; the event was accepted and the failures are listed.
func delivered(c *gin.Context, target sensor.TargetIdentifier, err error) {
	body := gin.H{"status": "accepted"}
	if target != "" {
		body["target"] = target.String()
	}
	if err != nil {
		body["errors"] = splitErrors(err)
	}
	c.JSON(http.StatusAccepted, body)
}

func splitErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		out := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

type encounterView struct {
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	TempID    string    `json:"temp_id"`
	Model     string    `json:"model"`
	RSSI      float64   `json:"rssi"`
	TxPower   float64   `json:"tx_power"`
	OrgID     int       `json:"org_id"`
	Version   int       `json:"version"`
}

func (s *Server) handleEncounters(c *gin.Context) {
	if s.encounters == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "encounter listing not available"})
		return
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}
	records, err := s.encounters.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]encounterView, 0, len(records))
	for _, r := range records {
		out = append(out, encounterView{
			Timestamp: r.Timestamp,
			Target:    r.Target.String(),
			TempID:    r.TempID,
			Model:     r.Model,
			RSSI:      r.RSSI,
			TxPower:   r.TxPower,
			OrgID:     r.OrgID,
			Version:   r.Version,
		})
	}
	c.JSON(http.StatusOK, gin.H{"encounters": out})
}

func optionalFloat(c *gin.Context, key string) (*float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.New(key + " must be a number")
	}
	return &v, nil
}

// handlePayload returns the current advertising payload. The node answers 503
// until its first temp-id arrives.
func (s *Server) handlePayload(c *gin.Context) {
	if s.payloads == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payload supplier not available"})
		return
	}
	var device tempid.Device
	var err error
	if device.RSSI, err = optionalFloat(c, "rssi"); err != nil {
		badRequest(c, err)
		return
	}
	if device.TxPower, err = optionalFloat(c, "tx_power"); err != nil {
		badRequest(c, err)
		return
	}

	legacyRequested := c.Query("legacy") == "true"
	var b []byte
	if legacyRequested {
		b, err = s.payloads.LegacyPayload(device)
	} else {
		b, err = s.payloads.Payload(device)
	}
	switch {
	case errors.Is(err, envelope.ErrMissingTempID):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case errors.Is(err, tempid.ErrMissingRSSI):
		badRequest(c, err)
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payload":    base64.StdEncoding.EncodeToString(b),
		"legacy":     legacyRequested,
		"short_name": envelope.ShortName(b),
	})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

func (s *Server) NodeID() string {
	return s.ID
}

func (s *Server) Kind() string {
	return "tracer"
}
