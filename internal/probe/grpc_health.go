package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/resilience"
)

// ServiceName is the health service name the narrator server registers
const ServiceName = "narrator"

// HealthClient checks a narrator server over grpc.health.v1
type HealthClient struct {
	addr    string
	timeout time.Duration
	logger  zerolog.Logger

	mu             sync.RWMutex
	conn           *grpc.ClientConn
	client         healthpb.HealthClient
	isConnected    bool
	circuitBreaker *resilience.CircuitBreaker
	retry          *resilience.RetryConfig
}

// NewHealthClient creates a client and dials addr
func NewHealthClient(addr string, timeout time.Duration) (*HealthClient, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &HealthClient{
		addr:           addr,
		timeout:        timeout,
		logger:         observability.Component("probe"),
		circuitBreaker: resilience.NewCircuitBreaker("grpc_health", 3, 10*time.Second),
		retry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}
	c.circuitBreaker.IsFailure = isRetryableError

	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return c, nil
}

// connect establishes the gRPC connection
func (c *HealthClient) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected && c.conn != nil {
		return nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.NewClient(c.addr, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.addr, err)
	}

	c.conn = conn
	c.client = healthpb.NewHealthClient(conn)
	c.isConnected = true
	c.logger.Debug().Str("addr", c.addr).Msg("Health client connected")
	return nil
}

// Check asks for the serving status of service ("" is the whole server)
func (c *HealthClient) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	var resp *healthpb.HealthCheckResponse

	err := c.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			if err := c.connect(); err != nil {
				return err
			}

			c.mu.RLock()
			client := c.client
			c.mu.RUnlock()
			if client == nil {
				return errors.New("health client is closed")
			}

			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			var callErr error
			resp, callErr = client.Check(callCtx, &healthpb.HealthCheckRequest{Service: service})
			return callErr
		}, c.retry, isRetryableError)
	})

	observability.UpdateCircuitBreakerState(c.circuitBreaker.Name(), int(c.circuitBreaker.GetState()))
	if errors.Is(err, resilience.ErrCircuitOpen) {
		observability.IncrementCircuitBreakerRejections(c.circuitBreaker.Name())
	}
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

// Ready reports whether the narrator service is serving
func (c *HealthClient) Ready(ctx context.Context) (bool, error) {
	st, err := c.Check(ctx, ServiceName)
	if err != nil {
		return false, err
	}
	return st == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection
func (c *HealthClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.isConnected = false
		c.conn = nil
		c.client = nil
		return err
	}
	return nil
}

// IsConnected returns whether the client holds a connection
func (c *HealthClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// isRetryableError reports transient gRPC failures
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return resilience.IsRetryableNetworkError(err)
}
