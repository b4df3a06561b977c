package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellAt(t *testing.T) {
	cell := CellAt(60.1719, 24.9414, 2)

	assert.Equal(t, 6017, cell.LatIndex)
	assert.Equal(t, 2494, cell.LngIndex)
	assert.Equal(t, "60;24/19/74", cell.TopicPath())
}

func TestCellTopicPathNegativeCoordinates(t *testing.T) {
	// London: negative longitude must floor away from zero, not towards it
	cell := CellAt(51.5074, -0.1278, 2)

	assert.Equal(t, 5150, cell.LatIndex)
	assert.Equal(t, -13, cell.LngIndex)
	assert.Equal(t, "51;-1/58/07", cell.TopicPath())
}

func TestCoveringCells(t *testing.T) {
	bounds := CircleBounds(60.17, 24.94, 400)

	cells := CoveringCells(bounds, 2)
	require.NotEmpty(t, cells)

	// the centre cell must be part of the coverage
	assert.Contains(t, cells, CellAt(60.17, 24.94, 2))

	// deterministic ordering: two calls with identical coverage produce an
	// identical slice
	assert.Equal(t, cells, CoveringCells(bounds, 2))
}

func TestCoveringCellsIdenticalCoverage(t *testing.T) {
	// two centres inside the same cell grid footprint produce the same set
	first := CoveringCells(Bounds{MinLatitude: 60.171, MinLongitude: 24.941, MaxLatitude: 60.179, MaxLongitude: 24.949}, 2)
	second := CoveringCells(Bounds{MinLatitude: 60.172, MinLongitude: 24.942, MaxLatitude: 60.178, MaxLongitude: 24.948}, 2)

	assert.Equal(t, first, second)
}
