// Package ingest routes inbound transport messages to the measurement,
// status and heartbeat handlers and hosts the service wiring for the
// router process. A single bad message is logged and dropped; the receive
// loop itself must keep serving.
package ingest

import (
	"strings"
)

// Kind discriminates what a decoded topic addresses.
type Kind int

const (
	// KindUnknown marks topics that do not match the expected shape.
	KindUnknown Kind = iota
	// KindMeasurement is a pollutant reading (the kind token names the
	// pollutant symbol).
	KindMeasurement
	// KindStatus is a device health report.
	KindStatus
	// KindHeartbeat is a station keep-alive.
	KindHeartbeat
)

// String returns the kind's metric label.
func (k Kind) String() string {
	switch k {
	case KindMeasurement:
		return "measurement"
	case KindStatus:
		return "status"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Route is a decoded topic: `sensors/{stationCode}/{kind}`. For
// measurements the third segment is the pollutant symbol.
type Route struct {
	StationCode string
	Kind        Kind
	Pollutant   string
}

// ParseTopic splits a transport topic into a Route. Topics with fewer
// than three segments are not routable and return ok=false.
func ParseTopic(topic string) (Route, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return Route{}, false
	}

	route := Route{StationCode: parts[1]}
	switch parts[2] {
	case "status":
		route.Kind = KindStatus
	case "heartbeat":
		route.Kind = KindHeartbeat
	default:
		// Any other token is a pollutant symbol.
		route.Kind = KindMeasurement
		route.Pollutant = parts[2]
	}
	return route, true
}
