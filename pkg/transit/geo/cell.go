package geo

import (
	"fmt"
	"math"
	"strings"
)

// CellPrecision is how many decimal digits of latitude and longitude a
// subscription cell carries. Two digits gives cells of roughly 1.1km x 0.6km
// at northern European latitudes - coarse enough that a nearby radius of a
// few hundred metres is covered by a handful of topic filters.
const CellPrecision = 2

// Cell is a coarse geographic subdivision addressable as a topic filter
// suffix. The first segment is the integer degrees ("60;24"), each following
// segment pairs one further decimal digit of latitude and longitude ("19"
// means latitude digit 1, longitude digit 9). Nearby cells therefore share a
// topic prefix, the same property a geohash gives string indexes.
type Cell struct {
	LatIndex int // latitude * 10^precision, floored
	LngIndex int // longitude * 10^precision, floored

	Precision int
}

// CellAt returns the cell containing a coordinate at the given precision.
func CellAt(lat, lng float64, precision int) Cell {
	scale := math.Pow10(precision)

	return Cell{
		LatIndex:  int(math.Floor(lat * scale)),
		LngIndex:  int(math.Floor(lng * scale)),
		Precision: precision,
	}
}

// TopicPath renders the cell as its topic filter segments, for example
// "60;24/19/73" for precision 2.
func (cell Cell) TopicPath() string {
	scale := int(math.Pow10(cell.Precision))

	latDegrees := floorDiv(cell.LatIndex, scale)
	lngDegrees := floorDiv(cell.LngIndex, scale)

	segments := []string{fmt.Sprintf("%d;%d", latDegrees, lngDegrees)}

	latDigits := fmt.Sprintf("%0*d", cell.Precision, cell.LatIndex-latDegrees*scale)
	lngDigits := fmt.Sprintf("%0*d", cell.Precision, cell.LngIndex-lngDegrees*scale)

	for i := 0; i < cell.Precision; i++ {
		segments = append(segments, fmt.Sprintf("%c%c", latDigits[i], lngDigits[i]))
	}

	return strings.Join(segments, "/")
}

// CoveringCells returns every cell at the given precision intersecting the
// bounding box. The result is ordered south-west to north-east so two calls
// with identical coverage produce an identical slice.
func CoveringCells(bounds Bounds, precision int) []Cell {
	scale := math.Pow10(precision)

	minLat := int(math.Floor(bounds.MinLatitude * scale))
	maxLat := int(math.Floor(bounds.MaxLatitude * scale))
	minLng := int(math.Floor(bounds.MinLongitude * scale))
	maxLng := int(math.Floor(bounds.MaxLongitude * scale))

	var cells []Cell
	for lat := minLat; lat <= maxLat; lat++ {
		for lng := minLng; lng <= maxLng; lng++ {
			cells = append(cells, Cell{LatIndex: lat, LngIndex: lng, Precision: precision})
		}
	}

	return cells
}

func floorDiv(a, b int) int {
	quotient := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		quotient--
	}
	return quotient
}
