package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
)

const (
	updatePath   = "/v2/op/update"
	ActionAppend = "append"

	headerService     = "Fiware-Service"
	headerServicePath = "Fiware-Servicepath"
)

// Tenant scopes every entity written to the context broker.
type Tenant struct {
	Service     string
	ServicePath string
}

type batchUpdate struct {
	ActionType string           `json:"actionType"`
	Entities   []*models.Entity `json:"entities"`
}

// ContextBrokerClient writes entity batches through the NGSIv2 batch
// operation endpoint.
type ContextBrokerClient struct {
	*BaseClient
	endpoint string
	tenant   Tenant
}

func NewContextBrokerClient(base *BaseClient, endpoint string, tenant Tenant) *ContextBrokerClient {
	return &ContextBrokerClient{
		BaseClient: base,
		endpoint:   strings.TrimRight(endpoint, "/"),
		tenant:     tenant,
	}
}

func (c *ContextBrokerClient) Endpoint() string {
	return c.endpoint
}

// BatchUpdate upserts entities with a single request. It does not retry and
// does not go through the circuit breaker, so one station failing never
// blocks the next.
func (c *ContextBrokerClient) BatchUpdate(ctx context.Context, station string, entities []*models.Entity) models.PublishResult {
	result := models.PublishResult{Station: station, Entities: len(entities)}

	body, err := json.Marshal(batchUpdate{ActionType: ActionAppend, Entities: entities})
	if err != nil {
		result.Outcome = models.OutcomeTransportFailure
		result.Reason = "encoding payload"
		result.Cause = err
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+updatePath, bytes.NewReader(body))
	if err != nil {
		result.Outcome = models.OutcomeTransportFailure
		result.Reason = "creating request"
		result.Cause = err
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tenant.Service != "" {
		req.Header.Set(headerService, c.tenant.Service)
	}
	if c.tenant.ServicePath != "" {
		req.Header.Set(headerServicePath, c.tenant.ServicePath)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		result.Outcome = classifyTransportError(err)
		result.Reason = result.Outcome.String()
		result.Cause = err
		return result
	}
	defer resp.Body.Close()

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	result.StatusCode = resp.StatusCode
	result.Reason = statusReason(resp)

	if resp.StatusCode >= 400 {
		result.Outcome = models.OutcomeStatusFailure
		result.Detail = strings.TrimSpace(string(detail))
		return result
	}

	c.logger.Debug("Batch update accepted",
		zap.String("station", station),
		zap.Int("status", resp.StatusCode),
		zap.Int("entities", len(entities)))

	result.Outcome = models.OutcomeSuccess
	return result
}

func statusReason(resp *http.Response) string {
	reason := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
	if reason == "" || reason == resp.Status {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

func classifyTransportError(err error) models.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.OutcomeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.OutcomeTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return models.OutcomeConnectionFailure
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.OutcomeConnectionFailure
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && errors.Is(urlErr.Err, io.EOF) {
		return models.OutcomeConnectionFailure
	}

	return models.OutcomeTransportFailure
}
