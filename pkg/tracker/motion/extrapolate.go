// Package motion holds the dead-reckoning maths used by the interpolation
// engine. Everything here is a pure function of a kinematic sample and an
// elapsed time.
package motion

import (
	"math"
	"time"

	"github.com/tracklive/tracklive/pkg/transit/geo"
)

// Heading blend time constants. Displacement converges towards the reported
// compass heading faster than the returned arrow orientation does, which
// approximates a turning arc instead of cutting the corner in a straight
// line.
const (
	displacementHeadingTimeConstant = 1.5 // seconds
	arrowHeadingTimeConstant        = 4.0 // seconds
)

// Sample is the kinematic state extrapolation starts from.
type Sample struct {
	Latitude  float64
	Longitude float64

	// VelocityHeading is the heading derived from consecutive positions;
	// ReportedHeading is the raw compass/GPS value.
	VelocityHeading float64
	ReportedHeading float64

	Speed             float64 // metres per second
	SpeedAcceleration float64 // metres per second squared
}

// Prediction is the dead-reckoned state after some elapsed time.
type Prediction struct {
	Latitude  float64
	Longitude float64
	Heading   float64
}

// Extrapolate integrates the sample forward by dt. Integrated speed is
// clamped to non-negative so a decelerating vehicle comes to rest instead of
// reversing. At dt = 0 the prediction is the sample itself with Heading equal
// to the velocity heading.
func Extrapolate(sample Sample, dt time.Duration) Prediction {
	seconds := dt.Seconds()
	if seconds < 0 {
		seconds = 0
	}

	// v(t) = max(0, v0 + a*t); distance is the average of the endpoints
	endSpeed := sample.Speed + sample.SpeedAcceleration*seconds
	if endSpeed < 0 {
		endSpeed = 0
	}
	distance := (sample.Speed + endSpeed) / 2 * seconds

	displacementHeading := blendHeading(sample.VelocityHeading, sample.ReportedHeading, seconds, displacementHeadingTimeConstant)
	arrowHeading := blendHeading(sample.VelocityHeading, sample.ReportedHeading, seconds, arrowHeadingTimeConstant)

	perDegreeLat, perDegreeLng := geo.MetersPerDegree(sample.Latitude)

	headingRadians := displacementHeading * math.Pi / 180

	return Prediction{
		Latitude:  sample.Latitude + distance*math.Cos(headingRadians)/perDegreeLat,
		Longitude: sample.Longitude + distance*math.Sin(headingRadians)/perDegreeLng,
		Heading:   arrowHeading,
	}
}

// blendHeading moves from one heading towards another along the shortest
// angular path by a factor of 1 - e^(-t/tau). The factor is monotonic in t
// and zero at t = 0, so the result always lies between the two headings.
func blendHeading(from float64, to float64, seconds float64, timeConstant float64) float64 {
	factor := 1 - math.Exp(-seconds/timeConstant)

	return geo.NormaliseHeading(from + geo.HeadingDelta(from, to)*factor)
}
