// Package simulator generates synthetic station and sensor traffic for
// exercising the telemetry pipeline against a live broker.
package simulator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Typical value ranges per pollutant symbol (µg/m³).
var pollutantRanges = map[string][2]float64{
	"PM25": {5.0, 150.0},
	"PM10": {10.0, 200.0},
	"NO2":  {5.0, 100.0},
	"O3":   {10.0, 180.0},
	"SO2":  {2.0, 50.0},
	"CO":   {0.5, 10.0},
}

// anomalyChance is the probability a reading is scaled into a spike.
const anomalyChance = 0.1

// Profile describes one simulated device.
type Profile struct {
	StationCode string `fake:"skip"`
	Pollutant   string `fake:"skip"`
	Serial      string `fake:"{uuid}"`
	SensorID    uint   `fake:"skip"`
}

// Device simulates a single sensor: a slowly drifting baseline with noise,
// occasional anomalous spikes, and a draining battery.
type Device struct {
	profile  Profile
	baseline float64
	noise    float64
	battery  int
	uptime   int64
}

// NewDevice creates a simulated device for a pollutant, with a baseline
// drawn from the pollutant's typical range.
func NewDevice(profile Profile) *Device {
	if profile.Serial == "" {
		var filled Profile
		if err := gofakeit.Struct(&filled); err == nil {
			profile.Serial = filled.Serial
		}
	}

	rng, ok := pollutantRanges[profile.Pollutant]
	if !ok {
		rng = [2]float64{0.0, 100.0}
	}
	span := rng[1] - rng[0]

	return &Device{
		profile:  profile,
		baseline: rng[0] + rand.Float64()*span*0.4,
		noise:    span * 0.1,
		battery:  100,
	}
}

// MeasurementTopic returns the topic the device publishes readings to.
func (d *Device) MeasurementTopic() string {
	return fmt.Sprintf("sensors/%s/%s", d.profile.StationCode, d.profile.Pollutant)
}

// StatusTopic returns the topic the device publishes health reports to.
func (d *Device) StatusTopic() string {
	return fmt.Sprintf("sensors/%s/status", d.profile.StationCode)
}

// NextMeasurement produces one measurement payload. Roughly one in ten
// readings is scaled into an anomalous spike.
func (d *Device) NextMeasurement(now time.Time) []byte {
	value := d.baseline + (rand.Float64()-0.5)*d.noise
	if rand.Float64() < anomalyChance {
		value *= 2.0 + rand.Float64()
	}
	if value < 0 {
		value = 0
	}

	payload, _ := json.Marshal(map[string]any{
		"sensor_id": d.profile.SensorID,
		"value":     roundTo(value, 2),
		"unit":      "µg/m³",
		"timestamp": now.UTC().Format(time.RFC3339),
	})
	return payload
}

// NextStatus produces one status payload, draining the battery and
// advancing uptime.
func (d *Device) NextStatus(interval time.Duration) []byte {
	d.uptime += int64(interval.Seconds())
	if rand.Float64() < 0.2 && d.battery > 0 {
		d.battery--
	}

	payload, _ := json.Marshal(map[string]any{
		"sensor_id":       d.profile.SensorID,
		"battery_percent": d.battery,
		"signal_rssi_dbm": -30 - rand.Intn(70),
		"uptime_seconds":  d.uptime,
	})
	return payload
}

// HeartbeatTopic returns a station's heartbeat topic.
func HeartbeatTopic(stationCode string) string {
	return fmt.Sprintf("sensors/%s/heartbeat", stationCode)
}

// HeartbeatPayload produces one station heartbeat body.
func HeartbeatPayload(stationCode string, now time.Time) []byte {
	payload, _ := json.Marshal(map[string]any{
		"station_code": stationCode,
		"status":       "online",
		"timestamp":    now.UTC().Format(time.RFC3339),
	})
	return payload
}

// RandomStationCode produces a plausible station code such as "WAW421".
func RandomStationCode() string {
	letters := gofakeit.LetterN(3)
	return fmt.Sprintf("%s%03d", toUpper(letters), rand.Intn(1000))
}

func roundTo(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return float64(int64(v*shift+0.5)) / shift
}

func toUpper(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'a' && r <= 'z' {
			out[i] = r - 'a' + 'A'
		}
	}
	return string(out)
}
