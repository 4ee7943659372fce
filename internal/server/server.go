// Package server exposes the authority service over gRPC with a JSON codec.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/mandate/internal/authority"
	"github.com/ppiankov/mandate/internal/chain"
	"github.com/ppiankov/mandate/internal/config"
	"github.com/ppiankov/mandate/internal/ledger"
	"github.com/ppiankov/mandate/internal/model"
	"github.com/ppiankov/mandate/internal/monitor"
	"github.com/ppiankov/mandate/internal/rpc"
)

// Config holds gRPC server configuration.
type Config struct {
	Listen string
	// ConfigPath is re-read by ReloadConfig.
	ConfigPath string
}

// Server implements AuthorityService on top of an authority.Service and a monitor.
type Server struct {
	svc    *authority.Service
	mon    *monitor.Monitor
	logger *slog.Logger
	cfg    Config

	mu         sync.RWMutex
	configHash string

	grpcServer *grpc.Server
}

// New creates a gRPC server. mon may be nil, in which case Alerts is unavailable.
func New(cfg Config, svc *authority.Service, mon *monitor.Monitor, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		svc:        svc,
		mon:        mon,
		logger:     logger,
		cfg:        cfg,
		grpcServer: grpc.NewServer(opts...),
	}
	RegisterAuthorityServer(s.grpcServer, s)
	return s
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.logger.Info("authority server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// ReloadConfig re-reads the configuration file and applies its monitor section.
// Called by the hot-reloader on file change. Storage and listen settings need a restart.
func (s *Server) ReloadConfig() error {
	cfg, hash, err := config.LoadConfigWithHash(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	s.mu.Lock()
	changed := hash != s.configHash
	s.configHash = hash
	s.mu.Unlock()
	if !changed {
		return nil
	}
	if s.mon != nil {
		s.mon.SetConfig(cfg.MonitorSettings())
	}
	s.logger.Info("configuration reloaded", "path", s.cfg.ConfigPath, "hash", hash)
	return nil
}

// ConfigHash returns the hash of the last applied configuration file.
func (s *Server) ConfigHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configHash
}

func (s *Server) CreateDelegation(ctx context.Context, req *rpc.CreateDelegationRequest) (*rpc.CreateDelegationResponse, error) {
	d, err := s.svc.CreateDelegation(ctx, req.Delegation)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.CreateDelegationResponse{Delegation: d}, nil
}

func (s *Server) AddPolicy(ctx context.Context, req *rpc.AddPolicyRequest) (*rpc.AddPolicyResponse, error) {
	p, receipt, err := s.svc.AddPolicy(ctx, req.DelegationID, req.Policy, req.Actor)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.AddPolicyResponse{Policy: p, Receipt: receipt}, nil
}

func (s *Server) RemovePolicy(ctx context.Context, req *rpc.RemovePolicyRequest) (*rpc.ReceiptResponse, error) {
	receipt, err := s.svc.RemovePolicy(ctx, req.DelegationID, req.PolicyID, req.Actor)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.ReceiptResponse{Receipt: receipt}, nil
}

func (s *Server) Authorize(ctx context.Context, req *rpc.AuthorizeRequest) (*rpc.AuthorizeResponse, error) {
	dec, err := s.svc.Authorize(ctx, req.Context)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.AuthorizeResponse{Decision: dec}, nil
}

func (s *Server) Evaluate(ctx context.Context, req *rpc.EvaluateRequest) (*rpc.EvaluateResponse, error) {
	eval, err := s.svc.Evaluate(ctx, req.Context)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.EvaluateResponse{Evaluation: eval}, nil
}

func (s *Server) Transition(ctx context.Context, req *rpc.TransitionRequest) (*rpc.ReceiptResponse, error) {
	var receipt authority.Receipt
	var err error
	switch req.Action {
	case rpc.TransitionSuspend:
		receipt, err = s.svc.Suspend(ctx, req.DelegationID, req.Actor, req.Reason)
	case rpc.TransitionReactivate:
		receipt, err = s.svc.Reactivate(ctx, req.DelegationID, req.Actor, req.Reason)
	case rpc.TransitionRevoke:
		receipt, err = s.svc.Revoke(ctx, req.DelegationID, req.Actor, req.Reason)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown transition %q", req.Action)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.ReceiptResponse{Receipt: receipt}, nil
}

func (s *Server) Export(ctx context.Context, req *rpc.ExportRequest) (*rpc.ExportResponse, error) {
	x, err := s.svc.Export(ctx, req.DelegationID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.ExportResponse{Export: x}, nil
}

func (s *Server) Verify(ctx context.Context, req *rpc.VerifyRequest) (*rpc.VerifyResponse, error) {
	err := s.svc.Verify(ctx, req.DelegationID)
	var ie *chain.IntegrityError
	switch {
	case err == nil:
		x, err := s.svc.Export(ctx, req.DelegationID)
		if err != nil {
			return nil, toStatus(err)
		}
		return &rpc.VerifyResponse{Valid: true, HeadHash: x.Delegation.HeadHash}, nil
	case errors.As(err, &ie):
		return &rpc.VerifyResponse{Error: ie.Error(), ErrorSeq: ie.Seq}, nil
	default:
		return nil, toStatus(err)
	}
}

func (s *Server) Alerts(ctx context.Context, _ *rpc.AlertsRequest) (*rpc.AlertsResponse, error) {
	if s.mon == nil {
		return nil, status.Error(codes.Unavailable, "monitor not configured")
	}
	alerts, err := s.mon.Scan(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.AlertsResponse{Alerts: alerts}, nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, model.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, ledger.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, ledger.ErrExists):
		code = codes.AlreadyExists
	case errors.Is(err, authority.ErrInvalidTransition), errors.Is(err, authority.ErrClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, chain.ErrIntegrity):
		code = codes.DataLoss
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, authority.ErrTransient):
		code = codes.Aborted
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}
