package tool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charmbracelet/log"

	"github.com/cryptolab/rune-vault/internal/authz"
	"github.com/cryptolab/rune-vault/internal/config"
	"github.com/cryptolab/rune-vault/internal/core"
	"github.com/cryptolab/rune-vault/internal/logging"
	"github.com/cryptolab/rune-vault/internal/observability"
	"github.com/cryptolab/rune-vault/internal/ratelimit"
	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

// Server owns the gin engine backing the JSON tool-call transport.
type Server struct {
	engine  *gin.Engine
	svc     *core.Service
	authz   *authz.Authorizer
	limiter *ratelimit.PerTokenLimiter
	metrics *observability.Metrics
	logger  *log.Logger

	profile     config.ScoreResultProfile
	deadline    time.Duration
	startedAt   time.Time
}

// NewServer builds the gin router and registers every route.
func NewServer(svc *core.Service, az *authz.Authorizer, limiter *ratelimit.PerTokenLimiter, metrics *observability.Metrics, logger *log.Logger, profile config.ScoreResultProfile, deadline time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    gin.New(),
		svc:       svc,
		authz:     az,
		limiter:   limiter,
		metrics:   metrics,
		logger:    logger,
		profile:   profile,
		deadline:  deadline,
		startedAt: time.Now(),
	}
	s.engine.Use(gin.Recovery(), s.accessLogMiddleware())
	s.routes()
	return s
}

// Engine exposes the underlying *gin.Engine, e.g. for http.Server wiring.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metricsHandler()))

	v1 := s.engine.Group("/v1")
	v1.POST("/get_public_key", s.handleGetPublicKey)
	v1.POST("/decrypt_scores", s.handleDecryptScores)
	v1.POST("/decrypt_metadata", s.handleDecryptMetadata)
}

func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		correlationID := observability.NewCorrelationID()
		c.Set("correlation_id", correlationID)
		c.Next()

		status := "ok"
		if c.Writer.Status() >= 400 {
			status = "error"
		}
		op := strings.TrimPrefix(strings.TrimPrefix(c.Request.URL.Path, "/v1/"), "/")
		fields := logging.RequestFields(op, "tool", correlationID, status)
		fields = append(fields,
			"method", c.Request.Method,
			"http_status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		s.logger.Info("request", fields...)
	}
}

// authorize checks the token carried in the already-decoded request body
// against the allow-list and applies the per-token rate limit, using the
// same Authorizer and PerTokenLimiter instances the RPC transport shares.
// The tool-call surface never reads a bearer token from an HTTP header:
// both transports authorize the exact same way, from the message body.
func (s *Server) authorize(token string) error {
	if token == "" {
		return &vaulterr.Unauthorized{}
	}
	if err := s.authz.Check(token); err != nil {
		return err
	}
	if s.limiter != nil {
		if err := s.limiter.Allow(token); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleGetPublicKey(c *gin.Context) {
	start := time.Now()
	var req getPublicKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, &vaulterr.InvalidInput{Reason: err.Error()})
		return
	}
	if err := s.authorize(req.Token); err != nil {
		s.observe("get_public_key", start, err)
		writeError(c, err)
		return
	}
	ctx, cancel := s.deadlineCtx(c)
	defer cancel()

	bundle, err := s.svc.GetPublicKey(ctx)
	s.observe("get_public_key", start, err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, getPublicKeyResponse{
		EncKey:    bundle.EncKeyBytes,
		EvalKey:   bundle.EvalKeyBytes,
		Dim:       bundle.Dim,
		IndexName: bundle.IndexName,
	})
}

func (s *Server) handleDecryptScores(c *gin.Context) {
	start := time.Now()
	var req decryptScoresRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &vaulterr.InvalidInput{Reason: err.Error()})
		return
	}
	if err := s.authorize(req.Token); err != nil {
		s.observe("decrypt_scores", start, err)
		writeError(c, err)
		return
	}
	ctx, cancel := s.deadlineCtx(c)
	defer cancel()

	res, err := s.svc.DecryptScores(ctx, req.Ciphertext, req.TopK)
	s.observe("decrypt_scores", start, err)
	if err != nil {
		writeError(c, err)
		return
	}

	if s.profile == config.ScoreResultFlat {
		out := flatScoresResponse{Clamped: res.Clamped}
		for _, e := range res.Entries {
			index := uint64(e.ShardIdx)<<32 | uint64(e.RowIdx)
			out.Entries = append(out.Entries, flatScoreEntryJSON{Index: index, Score: e.Score})
		}
		c.JSON(http.StatusOK, out)
		return
	}

	out := structuredScoresResponse{Clamped: res.Clamped}
	for _, e := range res.Entries {
		out.Entries = append(out.Entries, scoreEntryJSON{ShardIdx: e.ShardIdx, RowIdx: e.RowIdx, Score: e.Score, IsNaN: e.IsNaN})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDecryptMetadata(c *gin.Context) {
	start := time.Now()
	var req decryptMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &vaulterr.InvalidInput{Reason: err.Error()})
		return
	}
	if err := s.authorize(req.Token); err != nil {
		s.observe("decrypt_metadata", start, err)
		writeError(c, err)
		return
	}
	ctx, cancel := s.deadlineCtx(c)
	defer cancel()

	items := make([]core.MetadataItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = core.MetadataItem{Wrapped: it.Wrapped, AAD: it.AAD}
	}
	plaintexts, err := s.svc.DecryptMetadata(ctx, items)
	s.observe("decrypt_metadata", start, err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decryptMetadataResponse{Plaintexts: plaintexts})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:        healthStatus(s.svc.State()),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		KeysLoaded:    s.svc.State() != core.StateInitializing,
	})
}

// healthStatus maps the internal state machine to the fixed public
// vocabulary health clients check against, never the state-machine name.
func healthStatus(st core.State) string {
	switch st {
	case core.StateReady:
		return "healthy"
	case core.StateInitializing:
		return "starting"
	case core.StateStopping:
		return "stopping"
	case core.StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s *Server) deadlineCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.deadline <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), s.deadline)
}

func (s *Server) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveRequest(op, "tool", status, time.Since(start))
}

func writeError(c *gin.Context, err error) {
	status, code := httpStatusFor(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: errorBody{Code: code, Message: err.Error()}})
}

// httpStatusFor maps a vaulterr kind to its HTTP status and stable taxonomy
// code, the code a spec-conformant client branches on rather than parsing
// the message text.
func httpStatusFor(err error) (int, string) {
	var unauthorized *vaulterr.Unauthorized
	if errors.As(err, &unauthorized) {
		return http.StatusUnauthorized, "unauthorized"
	}
	var invalid *vaulterr.InvalidInput
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, "invalid_input"
	}
	var rateLimited *vaulterr.RateLimited
	if errors.As(err, &rateLimited) {
		return http.StatusTooManyRequests, "rate_limited"
	}
	var overloaded *vaulterr.Overloaded
	if errors.As(err, &overloaded) {
		return http.StatusServiceUnavailable, "overloaded"
	}
	var notReady *vaulterr.NotReady
	if errors.As(err, &notReady) {
		return http.StatusServiceUnavailable, "not_ready"
	}
	var internal *vaulterr.Internal
	if errors.As(err, &internal) {
		return http.StatusInternalServerError, "internal"
	}
	return http.StatusInternalServerError, "internal"
}
