// Package vehiclestore owns the table of tracked vehicles and their
// lifecycle. All mutation is serialised through a single owner goroutine fed
// by a command channel; timers post into the same loop, so there is exactly
// one serialisation point and no per-field locking.
package vehiclestore

import (
	"context"
	"time"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	"github.com/tracklive/tracklive/pkg/tracker/config"
	"github.com/tracklive/tracklive/pkg/transit"
	"github.com/tracklive/tracklive/pkg/transit/geo"
)

const commandBuffer = 64

type Store struct {
	cfg *config.TrackerConfig

	commands chan func()

	vehicles map[string]*transit.TrackedVehicle
}

func NewStore(cfg *config.TrackerConfig) *Store {
	return &Store{
		cfg:      cfg,
		commands: make(chan func(), commandBuffer),
		vehicles: map[string]*transit.TrackedVehicle{},
	}
}

// Run is the owner loop. It returns when the context is cancelled; the sweep
// ticker is checked against the context on every tick so cancellation takes
// effect before the next sweep fires.
func (store *Store) Run(ctx context.Context) {
	sweep := time.NewTicker(store.cfg.SweepInterval())
	defer sweep.Stop()

	log.Info().Str("sweep", store.cfg.SweepInterval().String()).Msg("Starting vehicle store")

	for {
		select {
		case <-ctx.Done():
			return
		case command := <-store.commands:
			command()
		case <-sweep.C:
			if ctx.Err() != nil {
				return
			}
			store.sweep(time.Now())
		}
	}
}

func (store *Store) post(command func()) {
	store.commands <- command
}

func (store *Store) call(command func()) {
	done := make(chan struct{})
	store.commands <- func() {
		command()
		close(done)
	}
	<-done
}

// ApplyBatch applies a drained batch of location events in one table
// operation. Fire and forget - the flush timer must never block on the table.
func (store *Store) ApplyBatch(events []VehicleLocationEvent) {
	if len(events) == 0 {
		return
	}

	store.post(func() {
		for _, event := range events {
			store.apply(event)
		}
	})
}

// MarkForExit flags every non-subscribed vehicle failing the predicate as
// exiting, unless it already is. Used when the nearby area shrinks or moves.
func (store *Store) MarkForExit(keep func(transit.TrackedVehicle) bool) {
	store.post(func() {
		now := time.Now()
		for _, vehicle := range store.vehicles {
			if vehicle.IsInterestSet || vehicle.IsExiting() {
				continue
			}
			if !keep(*vehicle) {
				exitingAt := now
				vehicle.ExitingAt = &exitingAt
			}
		}
	})
}

// RemoveWhere evicts every vehicle matching the predicate and returns how
// many were removed.
func (store *Store) RemoveWhere(matches func(transit.TrackedVehicle) bool) int {
	var removed int
	store.call(func() {
		for id, vehicle := range store.vehicles {
			if matches(*vehicle) {
				delete(store.vehicles, id)
				removed++
			}
		}
	})
	return removed
}

// Get returns a copy of one vehicle. Absence is a normal result, not an
// error.
func (store *Store) Get(vehicleID string) (transit.TrackedVehicle, bool) {
	var vehicle transit.TrackedVehicle
	var ok bool
	store.call(func() {
		if found, exists := store.vehicles[vehicleID]; exists {
			vehicle = *found
			ok = true
		}
	})
	return vehicle, ok
}

// Snapshot returns deep copies of every tracked vehicle, safe to hand to a
// render loop running at its own cadence.
func (store *Store) Snapshot() []transit.TrackedVehicle {
	var snapshot []transit.TrackedVehicle
	store.call(func() {
		snapshot = make([]transit.TrackedVehicle, 0, len(store.vehicles))
		for _, vehicle := range store.vehicles {
			var copied transit.TrackedVehicle
			if err := copier.CopyWithOption(&copied, vehicle, copier.Option{DeepCopy: true}); err != nil {
				log.Error().Err(err).Str("vehicle", vehicle.VehicleID).Msg("Failed to copy vehicle")
				continue
			}
			snapshot = append(snapshot, copied)
		}
	})
	return snapshot
}

// ActiveIDs returns the current set of vehicle ids, for correction-state
// pruning.
func (store *Store) ActiveIDs() map[string]struct{} {
	ids := map[string]struct{}{}
	store.call(func() {
		for id := range store.vehicles {
			ids[id] = struct{}{}
		}
	})
	return ids
}

func (store *Store) Len() int {
	var length int
	store.call(func() {
		length = len(store.vehicles)
	})
	return length
}

func (store *Store) apply(event VehicleLocationEvent) {
	vehicle, exists := store.vehicles[event.VehicleID]

	accepted := event.OnSubscribedRoute || (event.AreaActive && event.InsideArea)

	if !accepted {
		// An area-only vehicle drifting out of the radius gets one exit mark
		// so the removal transition can play; everything after that is
		// dropped until eviction or re-entry.
		if exists && !vehicle.IsInterestSet && event.AreaActive && !vehicle.IsExiting() {
			exitingAt := event.RecordedAt
			vehicle.ExitingAt = &exitingAt
		}
		return
	}

	if !exists {
		store.vehicles[event.VehicleID] = newVehicle(event)
		return
	}

	if vehicle.IsExiting() {
		// Re-entry (or a route subscription picking the vehicle back up)
		// cancels the removal animation
		vehicle.ExitingAt = nil
	}

	tuning := store.cfg.TuningFor(event.TransportType)

	moved := vehicle.Latitude != event.Latitude || vehicle.Longitude != event.Longitude

	if moved {
		elapsed := event.RecordedAt.Sub(vehicle.LastPositionUpdate)

		// The velocity-vector heading is only trustworthy when actually
		// moving; below the floor the previous heading is kept so a stopped
		// vehicle's marker does not spin on GPS noise
		if event.Speed >= tuning.MinMotionSpeed {
			vehicle.DisplayHeading = geo.Bearing(vehicle.Latitude, vehicle.Longitude, event.Latitude, event.Longitude)
		}

		if elapsed > 0 {
			speedAcceleration := (event.Speed - vehicle.Speed) / elapsed.Seconds()
			if speedAcceleration > tuning.MaxSpeedAcceleration {
				speedAcceleration = tuning.MaxSpeedAcceleration
			} else if speedAcceleration < -tuning.MaxSpeedAcceleration {
				speedAcceleration = -tuning.MaxSpeedAcceleration
			}
			vehicle.SpeedAcceleration = speedAcceleration
		}

		vehicle.Latitude = event.Latitude
		vehicle.Longitude = event.Longitude
		vehicle.LastPositionUpdate = event.RecordedAt
	}
	// A repeated measurement updates nothing derived - the extrapolation
	// baseline survives

	vehicle.ReportedHeading = event.ReportedHeading
	vehicle.Speed = event.Speed
	vehicle.Acceleration = event.Acceleration

	vehicle.RouteID = event.RouteID
	vehicle.RouteShortName = event.RouteShortName
	vehicle.Direction = event.Direction
	vehicle.Headsign = event.Headsign
	vehicle.StartTime = event.StartTime
	vehicle.OperatingDay = event.OperatingDay

	vehicle.DelaySeconds = event.DelaySeconds
	vehicle.NextStopID = event.NextStopID
	vehicle.DoorsOpen = event.DoorsOpen
	vehicle.Occupancy = event.Occupancy

	vehicle.IsInterestSet = event.OnSubscribedRoute

	// A republished report carrying an older publisher timestamp never
	// rewinds the staleness clock; LastPositionUpdate <= LastUpdate holds
	if event.RecordedAt.After(vehicle.LastUpdate) {
		vehicle.LastUpdate = event.RecordedAt
	}
}

func newVehicle(event VehicleLocationEvent) *transit.TrackedVehicle {
	return &transit.TrackedVehicle{
		VehicleID:     event.VehicleID,
		TransportType: event.TransportType,

		Latitude:        event.Latitude,
		Longitude:       event.Longitude,
		ReportedHeading: event.ReportedHeading,
		Speed:           event.Speed,
		Acceleration:    event.Acceleration,

		// Until a second position arrives the reported heading is the best
		// display heading available
		DisplayHeading: event.ReportedHeading,

		RouteID:        event.RouteID,
		RouteShortName: event.RouteShortName,
		Direction:      event.Direction,
		Headsign:       event.Headsign,
		StartTime:      event.StartTime,
		OperatingDay:   event.OperatingDay,

		DelaySeconds: event.DelaySeconds,
		NextStopID:   event.NextStopID,
		DoorsOpen:    event.DoorsOpen,
		Occupancy:    event.Occupancy,

		LastUpdate:         event.RecordedAt,
		LastPositionUpdate: event.RecordedAt,

		IsInterestSet: event.OnSubscribedRoute,
	}
}

func (store *Store) sweep(now time.Time) {
	for id, vehicle := range store.vehicles {
		store.sweepOne(now, id, vehicle)
	}
}

// sweepOne evaluates a single vehicle so a panic on one entry cannot halt the
// sweep for the rest of the table.
func (store *Store) sweepOne(now time.Time, id string, vehicle *transit.TrackedVehicle) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("vehicle", id).Msg("Sweep failed for vehicle")
		}
	}()

	tuning := store.cfg.TuningFor(vehicle.TransportType)

	if now.Sub(vehicle.LastUpdate) > tuning.StalenessTimeout {
		delete(store.vehicles, id)
		return
	}

	if vehicle.IsExiting() && now.Sub(*vehicle.ExitingAt) > tuning.ExitAnimation {
		delete(store.vehicles, id)
	}
}
