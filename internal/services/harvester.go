package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
	"github.com/bobby-s-dev/airquality-harvester/pkg/metrics"
)

type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// CycleSummary reports one fetch, build and publish pass.
type CycleSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Build     BuildStats    `json:"build"`
	Stations  int           `json:"stations"`
	Filtered  int           `json:"filtered"`
	NoData    int           `json:"no_data"`
	Persisted int           `json:"persisted"`
	InError   int           `json:"in_error"`
	Error     string        `json:"error,omitempty"`
}

// Harvester runs harvesting cycles. Cycles are sequential: the scheduler never
// starts one while another is running.
type Harvester struct {
	fetcher    Fetcher
	builder    *Builder
	publisher  *Publisher
	cache      *ObservationCache
	logger     *zap.Logger
	metrics    *metrics.Collector
	allowed    []string
	onlyLatest bool

	mu           sync.RWMutex
	cycles       int
	failedCycles int
	lastRunTime  time.Time
	lastSummary  *CycleSummary
}

// HarvesterOptions carries what the process configuration decides.
type HarvesterOptions struct {
	// Stations restricts publishing; each entry is a full feed key
	// (28079004) or a point code (004). Empty means every station.
	Stations   []string
	OnlyLatest bool
}

func NewHarvester(
	fetcher Fetcher,
	builder *Builder,
	publisher *Publisher,
	cache *ObservationCache,
	opts HarvesterOptions,
	logger *zap.Logger,
	metricsCollector *metrics.Collector,
) *Harvester {
	allowed := make([]string, 0, len(opts.Stations))
	for _, s := range opts.Stations {
		if s = strings.TrimSpace(s); s != "" {
			allowed = append(allowed, s)
		}
	}

	return &Harvester{
		fetcher:    fetcher,
		builder:    builder,
		publisher:  publisher,
		cache:      cache,
		logger:     logger,
		metrics:    metricsCollector,
		allowed:    allowed,
		onlyLatest: opts.OnlyLatest,
	}
}

// RunCycle fetches the dataset, builds the hourly entities and publishes them
// station by station. A fetch failure ends the cycle with nothing published;
// publish failures only affect their own station.
func (h *Harvester) RunCycle(ctx context.Context) (CycleSummary, error) {
	summary := CycleSummary{StartedAt: time.Now()}
	h.logger.Info("Starting a new harvesting and harmonization cycle")

	h.publisher.Reset()

	raw, err := h.fetcher.Fetch(ctx)
	if err != nil {
		h.logger.Error("Failed to retrieve the air quality dataset", zap.Error(err))
		summary.Error = err.Error()
		h.finish(&summary, false)
		if h.metrics != nil {
			h.metrics.FetchErrorsTotal.Inc()
		}
		return summary, err
	}
	if h.metrics != nil {
		h.metrics.FeedBytes.Set(float64(len(raw)))
	}

	batch, stats := h.builder.Build(raw)
	summary.Build = stats
	h.recordBuild(stats)

	for _, station := range batch.Order {
		if !h.Allowed(station) {
			summary.Filtered++
			continue
		}
		summary.Stations++

		observed := batch.Series[station].Observed()
		latest, ok := Latest(observed)
		if !ok {
			h.logger.Warn("No data retrieved", zap.String("station", station))
			summary.NoData++
			if h.metrics != nil {
				h.metrics.StationsNoData.Inc()
			}
			continue
		}

		h.logger.Debug("Retrieved data for station (last hour)",
			zap.String("station", station),
			zap.String("date_observed", models.FormatTime(latest.DateObserved())))

		if h.cache != nil {
			h.cache.Set(station, latest)
		}

		h.publisher.Publish(ctx, station, observed, h.onlyLatest)
	}

	counts := h.publisher.Counts()
	summary.Persisted = counts.Persisted
	summary.InError = counts.InError
	h.finish(&summary, true)

	h.logger.Info("Harvesting cycle finished",
		zap.Int("persisted", summary.Persisted),
		zap.Int("in_error", summary.InError),
		zap.Int("no_data", summary.NoData),
		zap.Int("stations", summary.Stations),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

func (h *Harvester) recordBuild(stats BuildStats) {
	h.logger.Debug("Dataset parsed",
		zap.Int("rows", stats.Rows),
		zap.Int("entities", stats.Entities),
		zap.Int("stations", stats.StationsWithSeries),
		zap.Int("unknown_station", stats.UnknownStation),
		zap.Int("unknown_magnitude", stats.UnknownMagnitude),
		zap.Int("malformed", stats.Malformed),
		zap.Int("invalid_values", stats.InvalidValues))

	if h.metrics == nil {
		return
	}
	h.metrics.RecordRows("read", stats.Rows)
	h.metrics.RecordRows("unknown_station", stats.UnknownStation)
	h.metrics.RecordRows("unknown_magnitude", stats.UnknownMagnitude)
	h.metrics.RecordRows("malformed", stats.Malformed)
}

func (h *Harvester) finish(summary *CycleSummary, ok bool) {
	summary.Duration = time.Since(summary.StartedAt)

	h.mu.Lock()
	h.cycles++
	if !ok {
		h.failedCycles++
	}
	h.lastRunTime = summary.StartedAt
	s := *summary
	h.lastSummary = &s
	h.mu.Unlock()

	if h.metrics != nil {
		result := "ok"
		if !ok {
			result = "fetch_error"
		}
		h.metrics.CycleDuration.Observe(summary.Duration.Seconds())
		h.metrics.RecordCycle(result)
	}
}

// Allowed reports whether a station key passes the configured allow-list.
func (h *Harvester) Allowed(stationKey string) bool {
	if len(h.allowed) == 0 {
		return true
	}
	for _, code := range h.allowed {
		if code == stationKey || matchesPointCode(stationKey, code) {
			return true
		}
	}
	return false
}

func matchesPointCode(stationKey, code string) bool {
	return len(code) == 3 && len(stationKey) > 3 && strings.HasSuffix(stationKey, code)
}

func (h *Harvester) OnlyLatest() bool {
	return h.onlyLatest
}

func (h *Harvester) GetLastRunTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastRunTime
}

// LastSummary returns a copy of the most recent cycle summary.
func (h *Harvester) LastSummary() (CycleSummary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastSummary == nil {
		return CycleSummary{}, false
	}
	return *h.lastSummary, true
}

func (h *Harvester) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := map[string]interface{}{
		"cycles":        h.cycles,
		"failed_cycles": h.failedCycles,
		"last_run_time": h.lastRunTime,
		"only_latest":   h.onlyLatest,
		"stations":      h.allowed,
	}
	if h.lastSummary != nil {
		stats["last_cycle"] = *h.lastSummary
	}
	if h.cache != nil {
		stats["cache_stats"] = h.cache.GetStats()
	}
	return stats
}
