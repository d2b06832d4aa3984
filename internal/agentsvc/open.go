package agentsvc

import (
	"fmt"
	"log/slog"
)

// Transports accepted by Open.
const (
	TransportREST = "rest"
	TransportGRPC = "grpc"
)

// OpenConfig selects and configures a transport.
type OpenConfig struct {
	Transport  string
	Endpoint   string
	APIVersion string
	Token      string
	GRPCAddr   string
}

// Open returns a Service for the configured transport and a function that
// releases its resources.
func Open(cfg OpenConfig, logger *slog.Logger) (Service, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Transport {
	case TransportGRPC:
		client, err := NewGrpcClient(cfg.GRPCAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case TransportREST, "":
		client, err := NewRESTClient(cfg.Endpoint, cfg.Token, WithAPIVersion(cfg.APIVersion), WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown agent transport %q", cfg.Transport)
	}
}
