// Package httpapi exposes FactoryOps core's internal HTTP surface: a
// liveness check, cache-invalidation webhooks for the identity and rule
// caches, and a read-only health-summary endpoint, in the teacher's
// fiber-and-handlers-file style (internal/http/handlers.go).
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/factoryops/core/internal/health"
	"github.com/factoryops/core/internal/identity"
	"github.com/factoryops/core/internal/repository"
	"github.com/factoryops/core/internal/rulecache"
)

// Deps bundles the components the internal API fronts.
type Deps struct {
	Identity  *identity.Cache
	RuleCache *rulecache.Cache
	Factories *repository.FactoryRepo
	Devices   *repository.DeviceRepo
	Alerts    *repository.AlertRepo
}

// New builds the fiber app and registers every route.
func New(deps Deps) *fiber.App {
	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	Register(app, deps)
	return app
}

func Register(app *fiber.App, deps Deps) {
	g := app.Group("/internal")

	g.Post("cache/invalidate/factory", func(c *fiber.Ctx) error {
		var req struct {
			Slug string `json:"slug"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		deps.Identity.InvalidateFactory(c.Context(), req.Slug)
		return c.SendStatus(fiber.StatusNoContent)
	})

	g.Post("cache/invalidate/device", func(c *fiber.Ctx) error {
		var req struct {
			FactoryID int64  `json:"factory_id"`
			DeviceID  int64  `json:"device_id"`
			DeviceKey string `json:"device_key"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		deps.Identity.InvalidateDevice(c.Context(), req.FactoryID, req.DeviceID, req.DeviceKey)
		deps.RuleCache.Invalidate(c.Context(), req.FactoryID, req.DeviceID)
		return c.SendStatus(fiber.StatusNoContent)
	})

	g.Post("cache/invalidate/rules", func(c *fiber.Ctx) error {
		var req struct {
			FactoryID int64 `json:"factory_id"`
			DeviceID  int64 `json:"device_id"`
			Global    bool  `json:"global"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if req.Global {
			deps.RuleCache.InvalidateFactory(c.Context(), req.FactoryID)
		} else {
			deps.RuleCache.Invalidate(c.Context(), req.FactoryID, req.DeviceID)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	f := app.Group("/factories")
	f.Get(":id/health", func(c *fiber.Ctx) error {
		factoryID, err := c.ParamsInt("id")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid factory id"})
		}

		devices, err := deps.Devices.ListByFactory(c.Context(), int64(factoryID))
		if err != nil {
			log.Error().Err(err).Int("factory_id", factoryID).Msg("httpapi.list_devices_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
		alerts, err := deps.Alerts.ActiveByFactory(c.Context(), int64(factoryID))
		if err != nil {
			log.Error().Err(err).Int("factory_id", factoryID).Msg("httpapi.list_alerts_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}

		summary := health.Summarize(int64(factoryID), alerts, devices, time.Now().UTC())
		return c.JSON(summary)
	})

	f.Get(":id/devices", func(c *fiber.Ctx) error {
		factoryID, err := c.ParamsInt("id")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid factory id"})
		}
		devices, err := deps.Devices.ListByFactory(c.Context(), int64(factoryID))
		if err != nil {
			log.Error().Err(err).Int("factory_id", factoryID).Msg("httpapi.list_devices_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
		return c.JSON(health.DeviceStatuses(devices, time.Now().UTC()))
	})
}
