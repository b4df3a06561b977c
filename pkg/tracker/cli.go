// Package tracker wires the engine together: store, subscription manager,
// interpolation engine, prune timer and the HTTP surface.
package tracker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v2"

	"github.com/tracklive/tracklive/pkg/api"
	"github.com/tracklive/tracklive/pkg/metadata"
	"github.com/tracklive/tracklive/pkg/tracker/config"
	"github.com/tracklive/tracklive/pkg/tracker/interpolation"
	"github.com/tracklive/tracklive/pkg/tracker/subscription"
	"github.com/tracklive/tracklive/pkg/tracker/vehiclestore"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "tracker",
		Usage: "Live vehicle tracking engine",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the tracking engine against a broker",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Usage: "path to config YAML"},
					&cli.StringSliceFlag{Name: "route", Usage: "route id to subscribe to (repeatable)"},
					&cli.StringFlag{Name: "nearby", Usage: "nearby area as lat,lng,radiusMeters"},
				},
				Action: func(c *cli.Context) error {
					return run(c, false)
				},
			},
			{
				Name:  "probe",
				Usage: "subscribe and dump interpolated samples for debugging",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Usage: "path to config YAML"},
					&cli.StringSliceFlag{Name: "route", Usage: "route id to subscribe to (repeatable)"},
					&cli.StringFlag{Name: "nearby", Usage: "nearby area as lat,lng,radiusMeters"},
				},
				Action: func(c *cli.Context) error {
					return run(c, true)
				},
			},
		},
	}
}

func run(c *cli.Context, probe bool) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store := vehiclestore.NewStore(cfg)
	engine := interpolation.NewEngine(cfg)

	manager := subscription.NewManager(cfg, store, func(onMessage func(string, []byte), onConnectionLost func(error)) subscription.Transport {
		return subscription.NewMQTTTransport(cfg.Broker, onMessage, onConnectionLost)
	})

	if cfg.Metadata.URL != "" {
		manager.RouteModeResolver = metadata.NewClient(cfg.Metadata.URL).ModeResolver()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var group conc.WaitGroup
	group.Go(func() { store.Run(ctx) })
	group.Go(func() { manager.Run(ctx) })
	group.Go(func() { runPruner(ctx, cfg, store, engine) })

	if err := manager.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	for _, routeID := range c.StringSlice("route") {
		manager.SubscribeToRoute(routeID)
	}

	if nearby := c.String("nearby"); nearby != "" {
		centerLatitude, centerLongitude, radius, parseErr := parseNearby(nearby)
		if parseErr != nil {
			return parseErr
		}
		if err := manager.ConfigureNearbyArea(centerLatitude, centerLongitude, radius); err != nil {
			return err
		}
	}

	var server *api.Server
	if probe {
		group.Go(func() { runProbe(ctx, store, engine) })
	} else {
		server = api.NewServer(store, manager, engine)
		group.Go(func() {
			if listenErr := server.Listen(cfg.Server.Listen); listenErr != nil {
				log.Error().Err(listenErr).Msg("API server stopped")
			}
		})
		log.Info().Str("listen", cfg.Server.Listen).Msg("API listening")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	<-signals // wait for signal
	go func() {
		<-signals // hard exit on second signal (in case shutdown gets stuck)
		os.Exit(1)
	}()

	// Disconnect goes through the manager's owner loop, so it must complete
	// before the loop's context is cancelled
	manager.Disconnect()
	cancel()
	if server != nil {
		if shutdownErr := server.Shutdown(); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("API shutdown failed")
		}
	}
	group.Wait()

	return nil
}

// runPruner drops correction state for vehicles no longer in the table, on
// its own cadence, independent of any render loop.
func runPruner(ctx context.Context, cfg *config.TrackerConfig, store *vehiclestore.Store, engine *interpolation.Engine) {
	ticker := time.NewTicker(cfg.PruneInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			engine.Prune(store.ActiveIDs())
		}
	}
}

// runProbe plays the render consumer: samples every tracked vehicle at a
// fixed tick and dumps the interpolated output.
func runProbe(ctx context.Context, store *vehiclestore.Store, engine *interpolation.Engine) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, vehicle := range store.Snapshot() {
				position := engine.Sample(vehicle, now, "probe")
				pretty.Println(vehicle.VehicleID, vehicle.RouteShortName, position)
			}
		}
	}
}

func parseNearby(value string) (float64, float64, float64, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("nearby must be lat,lng,radiusMeters: %q", value)
	}

	latitude, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("nearby latitude: %w", err)
	}
	longitude, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("nearby longitude: %w", err)
	}
	radius, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("nearby radius: %w", err)
	}

	return latitude, longitude, radius, nil
}
