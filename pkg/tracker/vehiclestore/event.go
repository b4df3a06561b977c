package vehiclestore

import (
	"time"

	"github.com/tracklive/tracklive/pkg/transit"
)

// VehicleLocationEvent is one normalised, membership-tagged report ready to
// be applied to the vehicle table. The normaliser resolves everything that
// can be decided without table state; the accept/exit decision itself happens
// inside the store's owner loop because it depends on the vehicle's current
// lifecycle state.
type VehicleLocationEvent struct {
	VehicleID string

	TransportType transit.TransportType

	Latitude        float64
	Longitude       float64
	ReportedHeading float64
	Speed           float64
	Acceleration    float64

	RouteID        string
	RouteShortName string
	Direction      string
	Headsign       string
	StartTime      string
	OperatingDay   string

	DelaySeconds int
	NextStopID   string
	DoorsOpen    bool
	Occupancy    transit.OccupancyStatus

	RecordedAt time.Time

	// Membership as seen by the subscription manager at arrival time
	OnSubscribedRoute bool
	AreaActive        bool
	InsideArea        bool
}
