package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/services"
	"github.com/bobby-s-dev/airquality-harvester/internal/stations"
)

// CycleTrigger starts an out-of-schedule harvesting cycle.
type CycleTrigger interface {
	ForceRun()
	GetStatus() map[string]interface{}
}

// BreakerReporter exposes the dataset client's circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

type Handler struct {
	harvester *services.Harvester
	registry  *stations.Registry
	cache     *services.ObservationCache
	feed      BreakerReporter
	trigger   CycleTrigger
	logger    *zap.Logger
}

// NewHandler wires the status endpoints. trigger may be nil when the process
// runs a single cycle.
func NewHandler(
	harvester *services.Harvester,
	registry *stations.Registry,
	cache *services.ObservationCache,
	feed BreakerReporter,
	trigger CycleTrigger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		harvester: harvester,
		registry:  registry,
		cache:     cache,
		feed:      feed,
		trigger:   trigger,
		logger:    logger,
	}
}

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(c *fiber.Ctx) error {
	status := "healthy"
	if last, ok := h.harvester.LastSummary(); ok && last.Error != "" {
		status = "degraded"
	}

	breaker := h.feed.BreakerState()
	if breaker == "open" {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status":       status,
		"timestamp":    time.Now(),
		"last_run":     h.harvester.GetLastRunTime(),
		"uptime":       time.Since(startTime).String(),
		"feed_breaker": breaker,
	})
}

// GetStats handles GET /api/v1/stats
func (h *Handler) GetStats(c *fiber.Ctx) error {
	stats := h.harvester.GetStats()
	if h.trigger != nil {
		stats["scheduler"] = h.trigger.GetStatus()
	}

	return c.JSON(fiber.Map{
		"stats":     stats,
		"timestamp": time.Now(),
	})
}

// GetStations handles GET /api/v1/stations
func (h *Handler) GetStations(c *fiber.Ctx) error {
	cached := make(map[string]bool)
	for _, key := range h.cache.Stations() {
		if len(key) < 3 {
			continue
		}
		cached[key[len(key)-3:]] = true
	}

	all := h.registry.All()
	list := make([]fiber.Map, 0, len(all))
	for _, s := range all {
		list = append(list, fiber.Map{
			"code":       s.Code,
			"name":       s.Name,
			"address":    s.Address,
			"location":   s.Location,
			"has_latest": cached[s.Code],
		})
	}

	return c.JSON(fiber.Map{
		"stations": list,
		"count":    len(list),
	})
}

// GetStationLatest handles GET /api/v1/stations/:code/latest
func (h *Handler) GetStationLatest(c *fiber.Ctx) error {
	code := c.Params("code")

	entity, ok := h.cache.Lookup(code)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "No observation for station",
			"station": code,
		})
	}

	return c.JSON(entity)
}

// TriggerHarvest handles POST /api/v1/harvest
func (h *Handler) TriggerHarvest(c *fiber.Ctx) error {
	if h.trigger == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Scheduler is not running",
		})
	}

	h.logger.Info("Harvest requested through the API", zap.String("ip", c.IP()))
	h.trigger.ForceRun()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "triggered",
	})
}

var startTime = time.Now()
