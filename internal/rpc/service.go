package rpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/charmbracelet/log"

	"github.com/cryptolab/rune-vault/internal/authz"
	"github.com/cryptolab/rune-vault/internal/core"
	"github.com/cryptolab/rune-vault/internal/logging"
	"github.com/cryptolab/rune-vault/internal/observability"
	"github.com/cryptolab/rune-vault/internal/ratelimit"
	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

const serviceName = "rune.vault.v1.Vault"

// Handler binds the Core Service to grpc-go's unary call dispatch. It stays
// a thin adapter: auth, rate limiting, request decoding, and response
// encoding live here; every actual operation is one call into core.Service.
type Handler struct {
	svc       *core.Service
	authz     *authz.Authorizer
	limiter   *ratelimit.PerTokenLimiter
	metrics   *observability.Metrics
	logger    *log.Logger
	reqDeadline time.Duration
}

// NewHandler builds a Handler. deadline bounds every request via
// context.WithTimeout regardless of what the caller's own context carries.
func NewHandler(svc *core.Service, az *authz.Authorizer, limiter *ratelimit.PerTokenLimiter, metrics *observability.Metrics, logger *log.Logger, deadline time.Duration) *Handler {
	return &Handler{svc: svc, authz: az, limiter: limiter, metrics: metrics, logger: logger, reqDeadline: deadline}
}

// authorize checks the bearer token carried in the request body, never a
// transport header, so this is the exact same check the tool-call
// transport's authorize performs, then applies the per-token rate limit.
// Both failures collapse to the same Unauthorized / RateLimited error
// kinds the tool-call transport also uses.
func (h *Handler) authorize(token string) error {
	if token == "" {
		return &vaulterr.Unauthorized{}
	}
	if err := h.authz.Check(token); err != nil {
		return err
	}
	if h.limiter != nil {
		if err := h.limiter.Allow(token); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.reqDeadline <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.reqDeadline)
}

func (h *Handler) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if h.metrics != nil {
		h.metrics.ObserveRequest(op, "rpc", status, time.Since(start))
	}
	if h.logger != nil {
		correlationID := observability.NewCorrelationID()
		fields := logging.RequestFields(op, "rpc", correlationID, status)
		fields = append(fields, "duration_ms", time.Since(start).Milliseconds())
		h.logger.Info("request", fields...)
	}
}

func (h *Handler) handleGetPublicKey(ctx context.Context, req *GetPublicKeyRequest) (*GetPublicKeyResponse, error) {
	start := time.Now()
	err := h.authorize(req.Token)
	if err != nil {
		h.observe("get_public_key", start, err)
		return nil, mapError(err)
	}
	ctx, cancel := h.withDeadline(ctx)
	defer cancel()

	bundle, err := h.svc.GetPublicKey(ctx)
	h.observe("get_public_key", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return &GetPublicKeyResponse{
		EncKey:    bundle.EncKeyBytes,
		EvalKey:   bundle.EvalKeyBytes,
		Dim:       uint32(bundle.Dim),
		IndexName: bundle.IndexName,
	}, nil
}

func (h *Handler) handleDecryptScores(ctx context.Context, req *DecryptScoresRequest) (*DecryptScoresResponse, error) {
	start := time.Now()
	err := h.authorize(req.Token)
	if err != nil {
		h.observe("decrypt_scores", start, err)
		return nil, mapError(err)
	}
	ctx, cancel := h.withDeadline(ctx)
	defer cancel()

	res, err := h.svc.DecryptScores(ctx, req.Ciphertext, int(req.TopK))
	h.observe("decrypt_scores", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	out := &DecryptScoresResponse{Entries: make([]ScoreEntryWire, len(res.Entries)), Clamped: res.Clamped}
	for i, e := range res.Entries {
		out.Entries[i] = ScoreEntryWire{ShardIdx: e.ShardIdx, RowIdx: e.RowIdx, Score: e.Score, IsNaN: e.IsNaN}
	}
	return out, nil
}

func (h *Handler) handleDecryptMetadata(ctx context.Context, req *DecryptMetadataRequest) (*DecryptMetadataResponse, error) {
	start := time.Now()
	err := h.authorize(req.Token)
	if err != nil {
		h.observe("decrypt_metadata", start, err)
		return nil, mapError(err)
	}
	ctx, cancel := h.withDeadline(ctx)
	defer cancel()

	items := make([]core.MetadataItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = core.MetadataItem{Wrapped: it.Wrapped, AAD: it.AAD}
	}
	plaintexts, err := h.svc.DecryptMetadata(ctx, items)
	h.observe("decrypt_metadata", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return &DecryptMetadataResponse{Plaintexts: plaintexts}, nil
}

// mapError translates the closed vaulterr taxonomy into gRPC statuses, the
// same errors.As-driven shape the ecosystem's own gRPC servers use for
// typed-error-to-status translation.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var unauthorized *vaulterr.Unauthorized
	if errors.As(err, &unauthorized) {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	var invalid *vaulterr.InvalidInput
	if errors.As(err, &invalid) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	var rateLimited *vaulterr.RateLimited
	if errors.As(err, &rateLimited) {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	var overloaded *vaulterr.Overloaded
	if errors.As(err, &overloaded) {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	var notReady *vaulterr.NotReady
	if errors.As(err, &notReady) {
		return status.Error(codes.Unavailable, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	var internal *vaulterr.Internal
	if errors.As(err, &internal) {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

func decodeRequest(dec func(any) error, msg wireMessage) error {
	return dec(msg)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetPublicKey",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := &GetPublicKeyRequest{}
				if err := decodeRequest(dec, req); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				h := srv.(*Handler)
				if interceptor == nil {
					return h.handleGetPublicKey(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetPublicKey"}
				handler := func(ctx context.Context, req any) (any, error) {
					return h.handleGetPublicKey(ctx, req.(*GetPublicKeyRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "DecryptScores",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := &DecryptScoresRequest{}
				if err := decodeRequest(dec, req); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				h := srv.(*Handler)
				if interceptor == nil {
					return h.handleDecryptScores(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/DecryptScores"}
				handler := func(ctx context.Context, req any) (any, error) {
					return h.handleDecryptScores(ctx, req.(*DecryptScoresRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "DecryptMetadata",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := &DecryptMetadataRequest{}
				if err := decodeRequest(dec, req); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				h := srv.(*Handler)
				if interceptor == nil {
					return h.handleDecryptMetadata(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/DecryptMetadata"}
				handler := func(ctx context.Context, req any) (any, error) {
					return h.handleDecryptMetadata(ctx, req.(*DecryptMetadataRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rune-vault/internal/rpc/service.go",
}

// RegisterVaultServer registers the Handler against a *grpc.Server, mirroring
// the shape of a generated pb.Register*ServiceServer call.
func RegisterVaultServer(s *grpc.Server, h *Handler) {
	s.RegisterService(&serviceDesc, h)
}
