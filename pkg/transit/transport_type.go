package transit

type TransportType string

const (
	TransportTypeBus     TransportType = "Bus"
	TransportTypeTram    TransportType = "Tram"
	TransportTypeMetro   TransportType = "Metro"
	TransportTypeTrain   TransportType = "Train"
	TransportTypeFerry   TransportType = "Ferry"
	TransportTypeUnknown TransportType = "UNKNOWN"
)

// TransportTypeFromTopic maps the mode segment of a feed topic onto a
// TransportType
func TransportTypeFromTopic(mode string) TransportType {
	switch mode {
	case "bus":
		return TransportTypeBus
	case "tram":
		return TransportTypeTram
	case "metro", "subway":
		return TransportTypeMetro
	case "train", "rail":
		return TransportTypeTrain
	case "ferry":
		return TransportTypeFerry
	default:
		return TransportTypeUnknown
	}
}

// TopicSegment is the inverse mapping, used when building topic filters for a
// route of a known mode
func (transportType TransportType) TopicSegment() string {
	switch transportType {
	case TransportTypeBus:
		return "bus"
	case TransportTypeTram:
		return "tram"
	case TransportTypeMetro:
		return "metro"
	case TransportTypeTrain:
		return "train"
	case TransportTypeFerry:
		return "ferry"
	default:
		return "+"
	}
}
