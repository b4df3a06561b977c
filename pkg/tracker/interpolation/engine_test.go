package interpolation

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklive/tracklive/pkg/tracker/config"
	"github.com/tracklive/tracklive/pkg/transit"
)

func testConfig() *config.TrackerConfig {
	os.Setenv("TRACKLIVE_BROKER_URL", "wss://broker.invalid/mqtt")
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func stationaryVehicle(reportedAt time.Time) transit.TrackedVehicle {
	return transit.TrackedVehicle{
		VehicleID:     "HSL/1001",
		TransportType: transit.TransportTypeBus,

		Latitude:       60.1700,
		Longitude:      24.9400,
		DisplayHeading: 45,

		LastUpdate:         reportedAt,
		LastPositionUpdate: reportedAt,
	}
}

func TestStationaryVehicleNeverDrifts(t *testing.T) {
	engine := NewEngine(testConfig())
	reportedAt := time.Now()
	vehicle := stationaryVehicle(reportedAt)

	for seconds := 0; seconds <= 5; seconds++ {
		position := engine.Sample(vehicle, reportedAt.Add(time.Duration(seconds)*time.Second), "render")

		assert.Equal(t, vehicle.Latitude, position.Latitude)
		assert.Equal(t, vehicle.Longitude, position.Longitude)
		assert.Equal(t, vehicle.DisplayHeading, position.Heading)
		assert.False(t, position.Extrapolated)
	}
}

func TestMovingVehicleIsExtrapolated(t *testing.T) {
	engine := NewEngine(testConfig())
	reportedAt := time.Now()

	vehicle := stationaryVehicle(reportedAt)
	vehicle.DisplayHeading = 0
	vehicle.ReportedHeading = 0
	vehicle.Speed = 10

	position := engine.Sample(vehicle, reportedAt.Add(2*time.Second), "render")

	require.True(t, position.Extrapolated)
	assert.Greater(t, position.Latitude, vehicle.Latitude, "northbound vehicle must advance north")
}

func TestExtrapolationStopsBeyondWindow(t *testing.T) {
	cfg := testConfig()
	engine := NewEngine(cfg)
	reportedAt := time.Now()

	vehicle := stationaryVehicle(reportedAt)
	vehicle.Speed = 10

	window := cfg.TuningFor(vehicle.TransportType).MaxExtrapolation
	position := engine.Sample(vehicle, reportedAt.Add(window+time.Second), "render")

	assert.False(t, position.Extrapolated)
	assert.Equal(t, vehicle.Latitude, position.Latitude)
}

func TestCorrectionDecaysSmoothlyToZero(t *testing.T) {
	cfg := testConfig()
	engine := NewEngine(cfg)
	start := time.Now()

	vehicle := stationaryVehicle(start)
	engine.Sample(vehicle, start, "render")

	// new report roughly 55 metres east, well under the snap threshold
	moved := vehicle
	moved.Latitude = 60.1700
	moved.Longitude = 24.9410
	moved.LastPositionUpdate = start.Add(time.Second)
	moved.LastUpdate = moved.LastPositionUpdate

	correctedAt := start.Add(time.Second)

	// at the instant of the new report the marker must not jump
	first := engine.Sample(moved, correctedAt, "render")
	assert.InDelta(t, vehicle.Longitude, first.Longitude, 1e-9)

	window := cfg.TuningFor(vehicle.TransportType).CorrectionWindow

	previousOffset := moved.Longitude - first.Longitude
	for _, age := range []time.Duration{window / 4, window / 2, 3 * window / 4} {
		position := engine.Sample(moved, correctedAt.Add(age), "render")
		offset := moved.Longitude - position.Longitude

		assert.Less(t, offset, previousOffset, "correction must shrink monotonically")
		assert.Greater(t, offset, 0.0)
		previousOffset = offset
	}

	settled := engine.Sample(moved, correctedAt.Add(window), "render")
	assert.Equal(t, moved.Longitude, settled.Longitude, "offset is exactly zero once the window elapses")
	assert.Equal(t, moved.Latitude, settled.Latitude)
}

func TestTeleportSnapsWithoutCorrection(t *testing.T) {
	engine := NewEngine(testConfig())
	start := time.Now()

	vehicle := stationaryVehicle(start)
	engine.Sample(vehicle, start, "render")

	// a kilometre away, far past the correction threshold
	teleported := vehicle
	teleported.Latitude = 60.1790
	teleported.LastPositionUpdate = start.Add(time.Second)
	teleported.LastUpdate = teleported.LastPositionUpdate

	position := engine.Sample(teleported, start.Add(time.Second), "render")

	assert.Equal(t, teleported.Latitude, position.Latitude)
	assert.Equal(t, teleported.Longitude, position.Longitude)
}

func TestScopesAreIndependent(t *testing.T) {
	engine := NewEngine(testConfig())
	start := time.Now()

	vehicle := stationaryVehicle(start)
	engine.Sample(vehicle, start, "map")

	moved := vehicle
	moved.Longitude = 24.9410
	moved.LastPositionUpdate = start.Add(time.Second)
	moved.LastUpdate = moved.LastPositionUpdate

	now := start.Add(time.Second)

	mapPosition := engine.Sample(moved, now, "map")
	listPosition := engine.Sample(moved, now, "list")

	assert.InDelta(t, vehicle.Longitude, mapPosition.Longitude, 1e-9, "existing scope corrects from where it was displaying")
	assert.Equal(t, moved.Longitude, listPosition.Longitude, "fresh scope seeds at the raw position")

	assert.Equal(t, 2, engine.States())
}

func TestPruneDropsInactiveVehicles(t *testing.T) {
	engine := NewEngine(testConfig())
	now := time.Now()

	first := stationaryVehicle(now)
	second := stationaryVehicle(now)
	second.VehicleID = "HSL/1002"

	engine.Sample(first, now, "render")
	engine.Sample(second, now, "render")
	engine.Sample(second, now, "list")
	require.Equal(t, 3, engine.States())

	engine.Prune(map[string]struct{}{"HSL/1001": {}})

	assert.Equal(t, 1, engine.States())
}

func TestCorrectionDecayShape(t *testing.T) {
	window := 4 * time.Second

	assert.Equal(t, 1.0, correctionDecay(0, window))
	assert.Equal(t, 0.0, correctionDecay(window, window))
	assert.Equal(t, 0.0, correctionDecay(window+time.Second, window))
	assert.Equal(t, 0.0, correctionDecay(time.Second, 0))

	half := correctionDecay(window/2, window)
	assert.InDelta(t, 0.1353, half, 0.001)
}
