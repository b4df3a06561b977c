// Package interpolation turns discrete, irregularly timed vehicle reports
// into a continuous display position: dead-reckoning forward from the last
// report plus an additive correction offset that decays to zero, so a fresh
// report shifts the marker smoothly instead of snapping it.
package interpolation

import (
	"math"
	"sync"
	"time"

	"github.com/tracklive/tracklive/pkg/tracker/config"
	"github.com/tracklive/tracklive/pkg/tracker/motion"
	"github.com/tracklive/tracklive/pkg/transit"
	"github.com/tracklive/tracklive/pkg/transit/geo"
)

type stateKey struct {
	scope     string
	vehicleID string
}

// correctionState is private per (consumer scope, vehicle). Two independent
// render consumers smooth the same vehicle without interfering.
type correctionState struct {
	displayedLatitude  float64
	displayedLongitude float64
	displayedHeading   float64

	offsetLatitude  float64
	offsetLongitude float64
	offsetHeading   float64
	offsetAt        time.Time

	// Raw coordinates last observed, to detect that the vehicle's report
	// changed since the previous frame
	rawLatitude  float64
	rawLongitude float64
}

// Engine owns the correction state for its consumers. Each instance is
// self-contained, so tests and multiple scenes can run engines side by side.
type Engine struct {
	cfg *config.TrackerConfig

	mutex  sync.Mutex
	states map[stateKey]*correctionState
}

func NewEngine(cfg *config.TrackerConfig) *Engine {
	return &Engine{
		cfg:    cfg,
		states: map[stateKey]*correctionState{},
	}
}

// Sample computes the display position for one vehicle at one render tick.
// The vehicle value is a snapshot copy; the only state mutated is the
// engine's own correction map.
func (engine *Engine) Sample(vehicle transit.TrackedVehicle, now time.Time, scope string) transit.DisplayPosition {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()

	tuning := engine.cfg.TuningFor(vehicle.TransportType)

	key := stateKey{scope: scope, vehicleID: vehicle.VehicleID}
	state, exists := engine.states[key]
	if !exists {
		state = &correctionState{
			displayedLatitude:  vehicle.Latitude,
			displayedLongitude: vehicle.Longitude,
			displayedHeading:   vehicle.DisplayHeading,
			offsetAt:           now,
			rawLatitude:        vehicle.Latitude,
			rawLongitude:       vehicle.Longitude,
		}
		engine.states[key] = state
	} else if vehicle.Latitude != state.rawLatitude || vehicle.Longitude != state.rawLongitude {
		// The report moved since the last frame: capture where the marker was
		// displayed relative to the new report as an offset to decay away
		offsetLatitude := state.displayedLatitude - vehicle.Latitude
		offsetLongitude := state.displayedLongitude - vehicle.Longitude

		if offsetMeters(vehicle.Latitude, offsetLatitude, offsetLongitude) > tuning.MaxCorrectionMeters {
			// Teleport or trip change - snap with no correction
			state.offsetLatitude = 0
			state.offsetLongitude = 0
			state.offsetHeading = 0
		} else {
			state.offsetLatitude = offsetLatitude
			state.offsetLongitude = offsetLongitude
			state.offsetHeading = geo.HeadingDelta(vehicle.DisplayHeading, state.displayedHeading)
		}

		state.offsetAt = now
		state.rawLatitude = vehicle.Latitude
		state.rawLongitude = vehicle.Longitude
	}
	// Unchanged raw coordinates carry the existing offset and timestamp
	// forward untouched

	latitude := vehicle.Latitude
	longitude := vehicle.Longitude
	heading := vehicle.DisplayHeading
	extrapolated := false

	elapsed := now.Sub(vehicle.LastPositionUpdate)
	inMotion := vehicle.Speed >= tuning.MinMotionSpeed || math.Abs(vehicle.SpeedAcceleration) >= tuning.MinMotionSpeed

	// Stationary vehicles are never extrapolated, and neither is anything
	// whose report is older than the extrapolation window
	if elapsed > 0 && elapsed <= tuning.MaxExtrapolation && inMotion {
		prediction := motion.Extrapolate(motion.Sample{
			Latitude:          vehicle.Latitude,
			Longitude:         vehicle.Longitude,
			VelocityHeading:   vehicle.DisplayHeading,
			ReportedHeading:   vehicle.ReportedHeading,
			Speed:             vehicle.Speed,
			SpeedAcceleration: vehicle.SpeedAcceleration,
		}, elapsed)

		latitude = prediction.Latitude
		longitude = prediction.Longitude
		heading = prediction.Heading
		extrapolated = true
	}

	decay := correctionDecay(now.Sub(state.offsetAt), tuning.CorrectionWindow)

	latitude += state.offsetLatitude * decay
	longitude += state.offsetLongitude * decay
	heading = geo.NormaliseHeading(heading + state.offsetHeading*decay)

	state.displayedLatitude = latitude
	state.displayedLongitude = longitude
	state.displayedHeading = heading

	return transit.DisplayPosition{
		VehicleID:    vehicle.VehicleID,
		Latitude:     latitude,
		Longitude:    longitude,
		Heading:      heading,
		Extrapolated: extrapolated,
	}
}

// Prune drops correction state for vehicles no longer tracked. Called on its
// own timer, independent of the render loop, to bound memory.
func (engine *Engine) Prune(activeIDs map[string]struct{}) {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()

	for key := range engine.states {
		if _, active := activeIDs[key.vehicleID]; !active {
			delete(engine.states, key)
		}
	}
}

// States returns the number of live correction states, for the stats surface.
func (engine *Engine) States() int {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()

	return len(engine.states)
}

// correctionDecay is e^(-4 * age / window), clamped to exactly zero once the
// window has fully elapsed. Monotonically non-increasing in age.
func correctionDecay(age time.Duration, window time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if window <= 0 || age >= window {
		return 0
	}

	return math.Exp(-4 * age.Seconds() / window.Seconds())
}

func offsetMeters(latitude float64, offsetLatitude float64, offsetLongitude float64) float64 {
	perDegreeLat, perDegreeLng := geo.MetersPerDegree(latitude)

	dy := offsetLatitude * perDegreeLat
	dx := offsetLongitude * perDegreeLng

	return math.Sqrt(dx*dx + dy*dy)
}
