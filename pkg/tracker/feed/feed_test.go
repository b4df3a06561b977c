package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklive/tracklive/pkg/transit"
	"github.com/tracklive/tracklive/pkg/transit/geo"
)

func TestParseTopic(t *testing.T) {
	topic, err := ParseTopic("/vp/bus/HSL/1001/550/1/Westendinasema/05:43/2222234/60;24/19/74")
	require.NoError(t, err)

	assert.Equal(t, "bus", topic.Mode)
	assert.Equal(t, "HSL", topic.OperatorID)
	assert.Equal(t, "1001", topic.VehicleNumber)
	assert.Equal(t, "550", topic.RouteID)
	assert.Equal(t, "1", topic.Direction)
	assert.Equal(t, "Westendinasema", topic.Headsign)
	assert.Equal(t, "05:43", topic.StartTime)
	assert.Equal(t, "2222234", topic.NextStopID)
}

func TestParseTopicWithoutLeadingSlash(t *testing.T) {
	topic, err := ParseTopic("vp/tram/HSL/4021/10/2/Pikku Huopalahti/14:05/1050417/60;24/19/94")
	require.NoError(t, err)

	assert.Equal(t, "tram", topic.Mode)
	assert.Equal(t, "10", topic.RouteID)
}

func TestParseTopicRejectsWrongGrammar(t *testing.T) {
	malformed := []string{
		"",
		"vp",
		"vp/bus/HSL/1001",
		"xx/bus/HSL/1001/550/1/Headsign/05:43/2222234/60;24",
	}

	for _, topic := range malformed {
		_, err := ParseTopic(topic)
		assert.ErrorIs(t, err, ErrMalformedTopic, topic)
	}
}

func TestRouteFilter(t *testing.T) {
	assert.Equal(t, "vp/bus/+/+/550/#", RouteFilter(transit.TransportTypeBus, "550"))
	assert.Equal(t, "vp/+/+/+/550/#", RouteFilter(transit.TransportTypeUnknown, "550"))
}

func TestCellFilter(t *testing.T) {
	cell := geo.CellAt(60.1978, 24.9474, geo.CellPrecision)

	assert.Equal(t, "vp/+/+/+/+/+/+/+/+/60;24/19/94/#", CellFilter(cell))
}

func TestParseEnvelope(t *testing.T) {
	payload := []byte(`{"position":{"route":"550","line":"550","oper":"HSL","veh":"1001","lat":60.1978,"lng":24.9474,"hdg":270,"spd":8.2,"dl":-60,"drst":1,"occu":55,"tst":"2026-08-29T08:15:02Z","tsi":1788077702}}`)

	report, ok := ParseEnvelope(payload)
	require.True(t, ok)

	assert.Equal(t, "550", report.RouteID)
	assert.Equal(t, 60.1978, *report.Latitude)
	assert.Equal(t, 24.9474, *report.Longitude)
	assert.Equal(t, 270.0, report.Heading)
	assert.Equal(t, -60, report.DelaySeconds)
	assert.Equal(t, 1, report.DoorsOpen)
	assert.Equal(t, transit.OccupancyStandingOnly, report.OccupancyStatus())
}

func TestParseEnvelopeRejectsBadPayloads(t *testing.T) {
	bad := [][]byte{
		[]byte(`not json`),
		[]byte(`{}`),
		[]byte(`{"position":null}`),
		[]byte(`{"position":{"route":"550"}}`),
		[]byte(`{"position":{"lat":60.1978}}`),
	}

	for _, payload := range bad {
		_, ok := ParseEnvelope(payload)
		assert.False(t, ok, string(payload))
	}
}

func TestOccupancyBuckets(t *testing.T) {
	buckets := map[int]transit.OccupancyStatus{
		-5:  transit.OccupancyEmpty,
		0:   transit.OccupancyEmpty,
		10:  transit.OccupancySeatsAvailable,
		49:  transit.OccupancySeatsAvailable,
		50:  transit.OccupancyStandingOnly,
		89:  transit.OccupancyStandingOnly,
		90:  transit.OccupancyFull,
		100: transit.OccupancyFull,
	}

	for percentage, expected := range buckets {
		report := PositionReport{Occupancy: percentage}
		assert.Equal(t, expected, report.OccupancyStatus(), "occupancy %d", percentage)
	}
}
