package transit

import (
	"fmt"
	"time"
)

const VehicleIDFormat = "%s/%s" // operator id / vehicle number

type OccupancyStatus string

const (
	OccupancyEmpty          OccupancyStatus = "Empty"
	OccupancySeatsAvailable OccupancyStatus = "SeatsAvailable"
	OccupancyStandingOnly   OccupancyStatus = "StandingOnly"
	OccupancyFull           OccupancyStatus = "Full"
	OccupancyUnknown        OccupancyStatus = "UNKNOWN"
)

// TrackedVehicle is the normalised per-vehicle state kept by the vehicle
// store. There is exactly one per VehicleID.
//
// LastPositionUpdate is the extrapolation baseline - it only advances when the
// reported coordinates actually change, so a repeated measurement does not
// reset dead-reckoning. LastPositionUpdate <= LastUpdate always holds.
type TrackedVehicle struct {
	VehicleID string `groups:"basic"`

	TransportType TransportType `groups:"basic"`

	Latitude        float64 `groups:"basic"`
	Longitude       float64 `groups:"basic"`
	ReportedHeading float64 `groups:"basic"`
	Speed           float64 `groups:"basic"` // metres per second

	// Acceleration is the raw reported value; SpeedAcceleration is derived
	// from consecutive speed samples and clamped
	Acceleration      float64 `groups:"detailed"`
	SpeedAcceleration float64 `groups:"detailed"`

	// DisplayHeading is the velocity-vector heading derived from consecutive
	// positions. It is more stable than ReportedHeading at low speed and is
	// what consumers should orient markers by.
	DisplayHeading float64 `groups:"basic"`

	RouteID        string `groups:"basic"`
	RouteShortName string `groups:"basic"`
	Direction      string `groups:"detailed"`
	Headsign       string `groups:"basic"`
	StartTime      string `groups:"detailed"`
	OperatingDay   string `groups:"detailed"`

	DelaySeconds int             `groups:"detailed"`
	NextStopID   string          `groups:"detailed"`
	DoorsOpen    bool            `groups:"detailed"`
	Occupancy    OccupancyStatus `groups:"detailed"`

	LastUpdate         time.Time `groups:"detailed"`
	LastPositionUpdate time.Time `groups:"detailed"`

	// IsInterestSet is true when the vehicle was matched by an explicit route
	// subscription rather than discovered through the nearby area.
	IsInterestSet bool `groups:"detailed"`

	// ExitingAt marks the start of the removal animation window. Once set it
	// is only ever cleared by the vehicle re-entering the nearby area; the
	// sweep evicts the vehicle after the exit animation has elapsed.
	ExitingAt *time.Time `groups:"detailed"`
}

func MakeVehicleID(operatorID string, vehicleNumber string) string {
	return fmt.Sprintf(VehicleIDFormat, operatorID, vehicleNumber)
}

func (vehicle *TrackedVehicle) IsExiting() bool {
	return vehicle.ExitingAt != nil
}

// DisplayPosition is what the interpolation engine hands back to a renderer
// each frame.
type DisplayPosition struct {
	VehicleID string

	Latitude  float64
	Longitude float64
	Heading   float64

	// Extrapolated is true when the position is a dead-reckoned prediction
	// rather than the raw report.
	Extrapolated bool
}
