package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
	"github.com/bobby-s-dev/airquality-harvester/pkg/metrics"
)

type BrokerClient interface {
	BatchUpdate(ctx context.Context, station string, entities []*models.Entity) models.PublishResult
	Endpoint() string
}

// PublishCounts are the per-cycle batch tallies.
type PublishCounts struct {
	Persisted int `json:"persisted"`
	InError   int `json:"in_error"`
}

// Publisher sends one batch per station and keeps success and failure counts.
// It is driven from a single goroutine.
type Publisher struct {
	broker  BrokerClient
	logger  *zap.Logger
	metrics *metrics.Collector
	counts  PublishCounts
}

func NewPublisher(broker BrokerClient, logger *zap.Logger, metricsCollector *metrics.Collector) *Publisher {
	return &Publisher{
		broker:  broker,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Publish upserts a station's hourly entities, or only their synthesized
// latest duplicate when onlyLatest is set. Failures are logged and counted,
// never retried.
func (p *Publisher) Publish(ctx context.Context, station string, entities []*models.Entity, onlyLatest bool) models.PublishResult {
	selected := entities
	if onlyLatest {
		latest, ok := Latest(entities)
		if !ok {
			selected = nil
		} else {
			selected = []*models.Entity{latest}
		}
	}

	if len(selected) == 0 {
		return models.PublishResult{Station: station, Outcome: models.OutcomeNoData, Reason: "no data"}
	}

	p.logger.Debug("Going to persist station",
		zap.String("station", station),
		zap.String("endpoint", p.broker.Endpoint()),
		zap.Int("entities", len(selected)))

	result := p.broker.BatchUpdate(ctx, station, selected)

	if result.OK() {
		p.counts.Persisted++
		p.logger.Debug("Entity successfully created", zap.String("station", station))
	} else {
		p.counts.InError++
		p.logFailure(result)
	}

	if p.metrics != nil {
		p.metrics.RecordBatch(result.Outcome.String(), len(selected), result.OK())
	}

	return result
}

func (p *Publisher) logFailure(result models.PublishResult) {
	fields := []zap.Field{
		zap.String("station", result.Station),
		zap.String("outcome", result.Outcome.String()),
	}

	switch result.Outcome {
	case models.OutcomeStatusFailure:
		fields = append(fields,
			zap.Int("status", result.StatusCode),
			zap.String("reason", result.Reason),
			zap.String("detail", result.Detail))
		p.logger.Error("HTTP error while posting data to the context broker", fields...)
	case models.OutcomeConnectionFailure:
		p.logger.Error("Error connecting to the context broker", append(fields, zap.Error(result.Cause))...)
	case models.OutcomeTimeout:
		p.logger.Error("Timeout while posting data to the context broker", append(fields, zap.Error(result.Cause))...)
	default:
		p.logger.Error("Unexpected error while posting data to the context broker", append(fields, zap.Error(result.Cause))...)
	}
}

func (p *Publisher) Counts() PublishCounts {
	return p.counts
}

func (p *Publisher) Reset() {
	p.counts = PublishCounts{}
}
