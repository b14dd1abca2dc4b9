package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type BaseClient struct {
	client         HTTPClient
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker
}

type ClientConfig struct {
	Timeout time.Duration
	// CABundle is an optional PEM file of trusted roots; the system pool is
	// used when empty.
	CABundle        string
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func NewBaseClient(name string, config ClientConfig, logger *zap.Logger) (*BaseClient, error) {
	tlsConfig, err := newTLSConfig(config.CABundle)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     tlsConfig,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	return NewBaseClientWith(name, httpClient, config, logger), nil
}

// NewBaseClientWith wraps an existing HTTP client.
func NewBaseClientWith(name string, httpClient HTTPClient, config ClientConfig, logger *zap.Logger) *BaseClient {
	failures := config.BreakerFailures
	if failures == 0 {
		failures = 3
	}

	breakerSettings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("client", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &BaseClient{
		client:         httpClient,
		logger:         logger,
		circuitBreaker: gobreaker.NewCircuitBreaker(breakerSettings),
	}
}

func newTLSConfig(caBundle string) (*tls.Config, error) {
	var pool *x509.CertPool
	if caBundle == "" {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("loading system roots: %w", err)
		}
		pool = systemPool
	} else {
		pem, err := os.ReadFile(caBundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caBundle)
		}
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Get performs one GET through the circuit breaker. There is no retry: a
// failure is reported to the caller as a *models.NetworkError.
func (c *BaseClient) Get(ctx context.Context, url string) ([]byte, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doGet(ctx, url)
	})
	if err != nil {
		var netErr *models.NetworkError
		if errors.As(err, &netErr) {
			return nil, err
		}
		// Breaker open or too many half-open requests.
		return nil, &models.NetworkError{URL: url, Err: err}
	}

	return result.([]byte), nil
}

func (c *BaseClient) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.NetworkError{URL: url, Err: fmt.Errorf("creating request failed: %w", err)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("HTTP request failed",
			zap.String("url", url),
			zap.Error(err))
		return nil, &models.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &models.NetworkError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.NetworkError{URL: url, Err: fmt.Errorf("reading body: %w", err)}
	}

	c.logger.Debug("Request successful",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("body_size", len(body)))

	return body, nil
}

// BreakerState reports the circuit breaker state for status endpoints.
func (c *BaseClient) BreakerState() string {
	return c.circuitBreaker.State().String()
}
