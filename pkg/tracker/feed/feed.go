// Package feed defines the wire format of the vehicle position feed: the
// multi-level topic grammar and the JSON envelope each report travels in.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tracklive/tracklive/pkg/transit"
	"github.com/tracklive/tracklive/pkg/transit/geo"
)

// Topic layout:
//
//	vp/<mode>/<operator>/<vehicle>/<route>/<direction>/<headsign>/<start>/<nextstop>/<geocell...>
//
// The geocell suffix is the cell topic path from pkg/transit/geo, one integer
// segment followed by one segment per decimal digit pair, so a wildcard
// filter ending in a cell path selects everything inside that cell.
const TopicPrefix = "vp"

const fixedSegments = 9 // prefix + mode..nextstop

var ErrMalformedTopic = errors.New("topic does not match the feed grammar")

// Topic is the parsed identifying portion of a feed topic.
type Topic struct {
	Mode          string
	OperatorID    string
	VehicleNumber string
	RouteID       string
	Direction     string
	Headsign      string
	StartTime     string
	NextStopID    string
}

func ParseTopic(topic string) (Topic, error) {
	segments := strings.Split(strings.TrimPrefix(topic, "/"), "/")

	if len(segments) < fixedSegments || segments[0] != TopicPrefix {
		return Topic{}, fmt.Errorf("%w: %s", ErrMalformedTopic, topic)
	}

	return Topic{
		Mode:          segments[1],
		OperatorID:    segments[2],
		VehicleNumber: segments[3],
		RouteID:       segments[4],
		Direction:     segments[5],
		Headsign:      segments[6],
		StartTime:     segments[7],
		NextStopID:    segments[8],
	}, nil
}

// RouteFilter returns the wildcard topic filter selecting every vehicle on a
// route, optionally narrowed to a transport mode.
func RouteFilter(transportType transit.TransportType, routeID string) string {
	return fmt.Sprintf("%s/%s/+/+/%s/#", TopicPrefix, transportType.TopicSegment(), routeID)
}

// CellFilter returns the wildcard topic filter selecting every vehicle
// reporting from inside a geographic cell.
func CellFilter(cell geo.Cell) string {
	return fmt.Sprintf("%s/+/+/+/+/+/+/+/+/%s/#", TopicPrefix, cell.TopicPath())
}

// Envelope is the JSON payload wrapper.
type Envelope struct {
	Position *PositionReport `json:"position"`
}

// PositionReport is one kinematic report. Coordinates are pointers so a
// payload that omits them can be told apart from one at 0,0 and dropped.
type PositionReport struct {
	RouteID        string `json:"route"`
	RouteShortName string `json:"line"`
	Direction      string `json:"dir"`
	Headsign       string `json:"headsign"`
	StartTime      string `json:"start"`
	OperatingDay   string `json:"oday"`

	OperatorID    string `json:"oper"`
	VehicleNumber string `json:"veh"`

	Latitude     *float64 `json:"lat"`
	Longitude    *float64 `json:"lng"`
	Heading      float64  `json:"hdg"`
	Speed        float64  `json:"spd"`
	Acceleration float64  `json:"acc"`

	DelaySeconds int    `json:"dl"`
	NextStopID   string `json:"stop"`
	DoorsOpen    int    `json:"drst"`
	Occupancy    int    `json:"occu"`

	Timestamp string `json:"tst"` // RFC3339
	UnixTime  int64  `json:"tsi"`
}

// ParseEnvelope decodes a payload, returning ok = false for anything
// malformed or missing coordinates. Bad payloads are a normal occurrence on a
// shared broker and are never an error.
func ParseEnvelope(payload []byte) (*PositionReport, bool) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, false
	}

	report := envelope.Position
	if report == nil || report.Latitude == nil || report.Longitude == nil {
		return nil, false
	}

	return report, true
}

// OccupancyStatus buckets the wire occupancy percentage.
func (report *PositionReport) OccupancyStatus() transit.OccupancyStatus {
	switch {
	case report.Occupancy <= 0:
		return transit.OccupancyEmpty
	case report.Occupancy < 50:
		return transit.OccupancySeatsAvailable
	case report.Occupancy < 90:
		return transit.OccupancyStandingOnly
	default:
		return transit.OccupancyFull
	}
}
