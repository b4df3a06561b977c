package motion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tracklive/tracklive/pkg/transit/geo"
)

var movingSample = Sample{
	Latitude:        60.17,
	Longitude:       24.94,
	VelocityHeading: 90,
	ReportedHeading: 120,
	Speed:           10,
}

func TestExtrapolateZeroElapsed(t *testing.T) {
	prediction := Extrapolate(movingSample, 0)

	assert.Equal(t, movingSample.Latitude, prediction.Latitude)
	assert.Equal(t, movingSample.Longitude, prediction.Longitude)
	assert.Equal(t, movingSample.VelocityHeading, prediction.Heading)
}

func TestExtrapolateHeadingBetween(t *testing.T) {
	for _, dt := range []time.Duration{time.Second, 2 * time.Second, 5 * time.Second} {
		prediction := Extrapolate(movingSample, dt)

		assert.Greater(t, prediction.Heading, movingSample.VelocityHeading, "dt=%s", dt)
		assert.Less(t, prediction.Heading, movingSample.ReportedHeading, "dt=%s", dt)
	}
}

func TestExtrapolateHeadingConvergesMonotonically(t *testing.T) {
	oneSecond := Extrapolate(movingSample, time.Second)
	twoSeconds := Extrapolate(movingSample, 2*time.Second)

	// the longer extrapolation is closer to the reported heading
	assert.Greater(t, twoSeconds.Heading, oneSecond.Heading)
}

func TestExtrapolateDisplacement(t *testing.T) {
	prediction := Extrapolate(movingSample, 2*time.Second)

	travelled := geo.Distance(movingSample.Latitude, movingSample.Longitude, prediction.Latitude, prediction.Longitude)

	// 10 m/s for 2s with no acceleration
	assert.InDelta(t, 20, travelled, 0.5)

	// heading east-ish: longitude grows, latitude barely moves
	assert.Greater(t, prediction.Longitude, movingSample.Longitude)
}

func TestExtrapolateStationary(t *testing.T) {
	stationary := Sample{Latitude: 60.17, Longitude: 24.94, VelocityHeading: 45, ReportedHeading: 45}

	prediction := Extrapolate(stationary, 5*time.Second)

	assert.Equal(t, stationary.Latitude, prediction.Latitude)
	assert.Equal(t, stationary.Longitude, prediction.Longitude)
}

func TestExtrapolateDecelerationNeverReverses(t *testing.T) {
	braking := Sample{
		Latitude:        60.17,
		Longitude:       24.94,
		VelocityHeading: 0,
		ReportedHeading: 0,

		Speed:             2,
		SpeedAcceleration: -3,
	}

	short := Extrapolate(braking, time.Second)
	long := Extrapolate(braking, 10*time.Second)

	// once at rest the vehicle stays put instead of integrating backwards
	assert.Greater(t, short.Latitude, braking.Latitude)
	assert.GreaterOrEqual(t, long.Latitude, short.Latitude)
}

func TestExtrapolateHeadingWrapsAcrossNorth(t *testing.T) {
	wrapping := Sample{
		Latitude:        60.17,
		Longitude:       24.94,
		VelocityHeading: 350,
		ReportedHeading: 10,
		Speed:           5,
	}

	prediction := Extrapolate(wrapping, 2*time.Second)

	// blended heading crosses north via the short way
	assert.True(t, prediction.Heading > 350 || prediction.Heading < 10, "heading %f", prediction.Heading)
}
