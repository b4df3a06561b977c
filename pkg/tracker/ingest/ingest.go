// Package ingest is the normalise-and-batch pipeline between the transport
// and the vehicle store: parse-or-skip, membership tagging, and a time-boxed
// batch that bounds table update frequency independent of publisher
// burstiness.
package ingest

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tracklive/tracklive/pkg/tracker/feed"
	"github.com/tracklive/tracklive/pkg/tracker/vehiclestore"
	"github.com/tracklive/tracklive/pkg/transit"
	"github.com/tracklive/tracklive/pkg/transit/geo"
)

// Membership is the subscription manager's view of what the consumer is
// interested in at the moment a message arrives.
type Membership struct {
	// Routes maps each subscribed route id to the topic filter opened for
	// it; only key presence matters here
	Routes map[string]string

	AreaActive      bool
	CenterLatitude  float64
	CenterLongitude float64
	RadiusMeters    float64
}

func (membership Membership) InsideArea(latitude, longitude float64) bool {
	if !membership.AreaActive {
		return false
	}
	return geo.Distance(membership.CenterLatitude, membership.CenterLongitude, latitude, longitude) <= membership.RadiusMeters
}

// Normalise parses a raw wire message into a membership-tagged location
// event. Malformed payloads and messages the consumer has no interest in are
// skipped - never an error, only debug noise.
//
// An out-of-radius sample still passes through while an area is active: the
// store needs it to mark a previously discovered vehicle as exiting.
func Normalise(topic string, payload []byte, membership Membership) (vehiclestore.VehicleLocationEvent, bool) {
	parsedTopic, err := feed.ParseTopic(topic)
	if err != nil {
		log.Debug().Str("topic", topic).Msg("Dropping message with malformed topic")
		return vehiclestore.VehicleLocationEvent{}, false
	}

	report, ok := feed.ParseEnvelope(payload)
	if !ok {
		log.Debug().Str("topic", topic).Msg("Dropping malformed payload")
		return vehiclestore.VehicleLocationEvent{}, false
	}

	_, onRoute := membership.Routes[report.RouteID]

	if !onRoute && !membership.AreaActive {
		return vehiclestore.VehicleLocationEvent{}, false
	}

	event := vehiclestore.VehicleLocationEvent{
		VehicleID: transit.MakeVehicleID(report.OperatorID, report.VehicleNumber),

		TransportType: transit.TransportTypeFromTopic(parsedTopic.Mode),

		Latitude:        *report.Latitude,
		Longitude:       *report.Longitude,
		ReportedHeading: report.Heading,
		Speed:           report.Speed,
		Acceleration:    report.Acceleration,

		RouteID:        report.RouteID,
		RouteShortName: report.RouteShortName,
		Direction:      report.Direction,
		Headsign:       report.Headsign,
		StartTime:      report.StartTime,
		OperatingDay:   report.OperatingDay,

		DelaySeconds: report.DelaySeconds,
		NextStopID:   report.NextStopID,
		DoorsOpen:    report.DoorsOpen != 0,
		Occupancy:    report.OccupancyStatus(),

		RecordedAt: recordedAt(report),

		OnSubscribedRoute: onRoute,
		AreaActive:        membership.AreaActive,
		InsideArea:        membership.InsideArea(*report.Latitude, *report.Longitude),
	}

	return event, true
}

func recordedAt(report *feed.PositionReport) time.Time {
	if report.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, report.Timestamp); err == nil {
			return parsed
		}
	}
	if report.UnixTime > 0 {
		return time.Unix(report.UnixTime, 0)
	}
	return time.Now()
}

// Batcher coalesces accepted events until the flush timer drains them. It is
// only touched from the subscription manager's owner loop and needs no
// locking.
type Batcher struct {
	pending []vehiclestore.VehicleLocationEvent
}

func (batcher *Batcher) Append(event vehiclestore.VehicleLocationEvent) {
	batcher.pending = append(batcher.pending, event)
}

func (batcher *Batcher) Len() int {
	return len(batcher.pending)
}

// Drain hands over the pending batch and resets.
func (batcher *Batcher) Drain() []vehiclestore.VehicleLocationEvent {
	drained := batcher.pending
	batcher.pending = nil
	return drained
}
