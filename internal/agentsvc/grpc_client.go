package agentsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/triage-agents/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errServiceNotServing        = errors.New("agent service not serving")
)

// GrpcClient reaches the agent service through a gRPC gateway.
type GrpcClient struct {
	conn           *grpc.ClientConn
	health         healthpb.HealthClient
	addr           string
	requestTimeout time.Duration
	logger         *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the gateway at addr with default settings.
func NewGrpcClient(addr string, logger *slog.Logger) (*GrpcClient, error) {
	cfg := DefaultGrpcClientConfig()
	if addr != "" {
		cfg.Address = addr
	}
	return NewGrpcClientWithConfig(cfg, logger)
}

// NewGrpcClientWithConfig connects to the gateway and blocks until the
// connection is ready or ConnectTimeout elapses. Extra dial options are
// appended after the defaults.
func NewGrpcClientWithConfig(cfg GrpcClientConfig, logger *slog.Logger, dialOpts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, dialOpts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent service at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to agent service", "address", cfg.Address)

	return &GrpcClient{
		conn:           conn,
		health:         healthpb.NewHealthClient(conn),
		addr:           cfg.Address,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks that the gateway reports the agent service as serving.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: grpcServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errServiceNotServing, resp.GetStatus())
	}
	return nil
}

// CreateAgent registers an agent through the gateway.
func (c *GrpcClient) CreateAgent(ctx context.Context, spec AgentSpec) (domain.Agent, error) {
	var agent domain.Agent
	if err := c.invoke(ctx, "CreateAgent", createAgentRequest{Spec: spec}, &agent); err != nil {
		return domain.Agent{}, fmt.Errorf("create agent %s: %w", spec.Name, err)
	}
	return agent, nil
}

// SubmitRun starts a run through the gateway.
func (c *GrpcClient) SubmitRun(ctx context.Context, agentID, ticket string) (RunSnapshot, error) {
	if agentID == "" {
		return RunSnapshot{}, ErrAgentIDRequired
	}
	var snap RunSnapshot
	if err := c.invoke(ctx, "SubmitRun", submitRunRequest{AgentID: agentID, Ticket: ticket}, &snap); err != nil {
		return RunSnapshot{}, fmt.Errorf("submit run: %w", err)
	}
	return snap, nil
}

// GetRun polls a run through the gateway.
func (c *GrpcClient) GetRun(ctx context.Context, ref RunRef, afterMessageID string) (RunSnapshot, error) {
	if ref.ThreadID == "" || ref.RunID == "" {
		return RunSnapshot{}, ErrRunIDRequired
	}
	var snap RunSnapshot
	if err := c.invoke(ctx, "GetRun", getRunRequest{Ref: ref, AfterMessageID: afterMessageID}, &snap); err != nil {
		return RunSnapshot{}, fmt.Errorf("get run: %w", err)
	}
	return snap, nil
}

func (c *GrpcClient) invoke(ctx context.Context, method string, req, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp := &structpb.Struct{}
	fullMethod := "/" + grpcServiceName + "/" + method
	if err := c.conn.Invoke(ctx, fullMethod, in, resp); err != nil {
		c.logger.Debug("gRPC call failed", "method", method, "error", err)
		return err
	}
	return fromStruct(resp, out)
}
