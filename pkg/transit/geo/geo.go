package geo

import "math"

const earthRadiusMeters = 6371000

// metres per degree of latitude, and per degree of longitude at the equator
const metersPerDegree = 111320.0

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func toDegrees(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Distance returns the great-circle distance in metres between two
// coordinates using the haversine formula.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)

	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Bearing returns the initial bearing in degrees (0-360, clockwise from
// north) of the path from the first coordinate to the second.
func Bearing(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dLng := toRadians(lng2 - lng1)

	y := math.Sin(dLng) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLng)

	return NormaliseHeading(toDegrees(math.Atan2(y, x)))
}

// MetersPerDegree returns the local metres-per-degree scale for latitude and
// longitude at the given latitude.
func MetersPerDegree(latitude float64) (perDegreeLat float64, perDegreeLng float64) {
	return metersPerDegree, metersPerDegree * math.Cos(toRadians(latitude))
}

// NormaliseHeading wraps a heading into [0, 360)
func NormaliseHeading(heading float64) float64 {
	heading = math.Mod(heading, 360)
	if heading < 0 {
		heading += 360
	}
	return heading
}

// HeadingDelta returns the signed shortest angular difference from one
// heading to another, in (-180, 180].
func HeadingDelta(from float64, to float64) float64 {
	delta := math.Mod(to-from, 360)
	if delta > 180 {
		delta -= 360
	} else if delta <= -180 {
		delta += 360
	}
	return delta
}

// Bounds is an axis-aligned bounding box in degrees.
type Bounds struct {
	MinLatitude  float64
	MinLongitude float64
	MaxLatitude  float64
	MaxLongitude float64
}

// CircleBounds returns the bounding box of a circle of the given radius in
// metres around a centre coordinate.
func CircleBounds(centerLat, centerLng, radiusMeters float64) Bounds {
	perDegreeLat, perDegreeLng := MetersPerDegree(centerLat)

	dLat := radiusMeters / perDegreeLat
	dLng := radiusMeters / perDegreeLng

	return Bounds{
		MinLatitude:  centerLat - dLat,
		MinLongitude: centerLng - dLng,
		MaxLatitude:  centerLat + dLat,
		MaxLongitude: centerLng + dLng,
	}
}

func (bounds Bounds) Contains(lat, lng float64) bool {
	return lat >= bounds.MinLatitude && lat <= bounds.MaxLatitude &&
		lng >= bounds.MinLongitude && lng <= bounds.MaxLongitude
}
