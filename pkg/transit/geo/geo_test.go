package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	// Helsinki central railway station to Kamppi, roughly 700m
	distance := Distance(60.1719, 24.9414, 60.1688, 24.9316)

	assert.InDelta(t, 640, distance, 50)

	assert.Zero(t, Distance(60.1719, 24.9414, 60.1719, 24.9414))
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name     string
		lat2     float64
		lng2     float64
		expected float64
	}{
		{name: "due north", lat2: 60.2, lng2: 24.9, expected: 0},
		{name: "due south", lat2: 60.0, lng2: 24.9, expected: 180},
		{name: "due east", lat2: 60.1, lng2: 25.0, expected: 90},
		{name: "due west", lat2: 60.1, lng2: 24.8, expected: 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bearing := Bearing(60.1, 24.9, tt.lat2, tt.lng2)
			assert.InDelta(t, tt.expected, bearing, 1)
		})
	}
}

func TestNormaliseHeading(t *testing.T) {
	assert.Equal(t, 0.0, NormaliseHeading(360))
	assert.Equal(t, 350.0, NormaliseHeading(-10))
	assert.Equal(t, 10.0, NormaliseHeading(370))
}

func TestHeadingDelta(t *testing.T) {
	assert.Equal(t, 30.0, HeadingDelta(90, 120))
	assert.Equal(t, -30.0, HeadingDelta(120, 90))

	// shortest path crosses north
	assert.Equal(t, 20.0, HeadingDelta(350, 10))
	assert.Equal(t, -20.0, HeadingDelta(10, 350))
}

func TestCircleBounds(t *testing.T) {
	bounds := CircleBounds(60.17, 24.94, 500)

	assert.True(t, bounds.Contains(60.17, 24.94))
	assert.True(t, bounds.Contains(60.172, 24.945))
	assert.False(t, bounds.Contains(60.2, 24.94))

	// the box spans the circle's diameter
	assert.InDelta(t, 1000, Distance(bounds.MinLatitude, 24.94, bounds.MaxLatitude, 24.94), 5)
}

func TestMetersPerDegree(t *testing.T) {
	perDegreeLat, perDegreeLng := MetersPerDegree(60)

	assert.InDelta(t, 111320, perDegreeLat, 1)
	// longitude degrees halve at 60 degrees north
	assert.InDelta(t, 55660, perDegreeLng, 10)
}
