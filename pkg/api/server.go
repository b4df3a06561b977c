// Package api exposes the engine's consumer surface over HTTP: a queryable
// snapshot of tracked vehicles, single-vehicle lookup, connection status, and
// health. It renders nothing - drawing the points stays with the consumer.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"

	"github.com/tracklive/tracklive/pkg/tracker/interpolation"
	"github.com/tracklive/tracklive/pkg/tracker/subscription"
	"github.com/tracklive/tracklive/pkg/tracker/vehiclestore"
)

type Server struct {
	store   *vehiclestore.Store
	manager *subscription.Manager
	engine  *interpolation.Engine

	webApp *fiber.App
}

func NewServer(store *vehiclestore.Store, manager *subscription.Manager, engine *interpolation.Engine) *Server {
	return &Server{
		store:   store,
		manager: manager,
		engine:  engine,
	}
}

func (server *Server) Listen(listen string) error {
	webApp := fiber.New()
	webApp.Use(NewLogger())

	group := webApp.Group("/core")

	group.Get("/vehicles", server.vehicles)
	// vehicle ids are composite ("operator/number") so the parameter is a
	// wildcard, not a single segment
	group.Get("/vehicles/+", server.vehicle)
	group.Get("/status", server.status)

	webApp.Get("/health", server.health)

	server.webApp = webApp

	return webApp.Listen(listen)
}

// Shutdown stops the listener and waits for in-flight requests.
func (server *Server) Shutdown() error {
	if server.webApp == nil {
		return nil
	}
	return server.webApp.ShutdownWithTimeout(5 * time.Second)
}

func (server *Server) vehicles(c *fiber.Ctx) error {
	groups := []string{"basic"}
	if c.Query("detailed") == "true" {
		groups = append(groups, "detailed")
	}

	snapshot := server.store.Snapshot()

	reduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: groups,
	}, snapshot)

	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "could not reduce vehicle snapshot",
		})
	}

	return c.JSON(reduced)
}

func (server *Server) vehicle(c *fiber.Ctx) error {
	identifier := c.Params("+")

	vehicle, ok := server.store.Get(identifier)
	if !ok {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "vehicle not found",
		})
	}

	// the detail view gets the interpolated position alongside the raw state
	position := server.engine.Sample(vehicle, time.Now(), "api")

	reduced, marshalErr := sheriff.Marshal(&sheriff.Options{
		Groups: []string{"basic", "detailed"},
	}, vehicle)
	if marshalErr != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "could not reduce vehicle",
		})
	}

	return c.JSON(fiber.Map{
		"vehicle":  reduced,
		"position": position,
	})
}

func (server *Server) status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":           server.manager.Status(),
		"filters":          server.manager.Filters(),
		"vehicles":         server.store.Len(),
		"correctionStates": server.engine.States(),
	})
}

func (server *Server) health(c *fiber.Ctx) error {
	if server.manager.Status() == subscription.StatusError {
		c.SendStatus(fiber.StatusServiceUnavailable)
		return c.JSON(fiber.Map{
			"healthy": false,
		})
	}

	return c.JSON(fiber.Map{
		"healthy": true,
	})
}
