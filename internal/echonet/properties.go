package echonet

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// unitMultiplier maps the E1 cumulative-energy unit byte to a kWh
// multiplier. Values outside this table are "unknown" and default to a
// multiplier of 1, per spec.
var unitMultiplier = map[byte]float64{
	0x00: 1,
	0x01: 0.1,
	0x02: 0.01,
	0x03: 0.001,
	0x04: 0.0001,
	0x0A: 10,
	0x0B: 100,
	0x0C: 1000,
	0x0D: 10000,
}

// DecodeUnit decodes the E1 property: a single byte selecting a kWh
// multiplier. An unrecognised byte yields a multiplier of 1 and ok=false
// so the caller can log a warning.
func DecodeUnit(edt []byte) (multiplier float64, ok bool) {
	if len(edt) != 1 {
		return 1, false
	}
	m, known := unitMultiplier[edt[0]]
	if !known {
		return 1, false
	}
	return m, true
}

// decimalsFor returns the number of decimal places implied by a
// multiplier below 1, for rounding cumulative-energy values.
func decimalsFor(multiplier float64) int {
	if multiplier >= 1 {
		return 0
	}
	return int(math.Round(-math.Log10(multiplier)))
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

// DecodeCumulativePower decodes a 4-byte unsigned big-endian cumulative
// energy reading (E0 or the EA tail) into kWh, applying the unit
// multiplier and rounding to the multiplier's implied precision.
func DecodeCumulativePower(edt []byte, multiplier float64) (float64, error) {
	if len(edt) != 4 {
		return 0, &DecodeError{Reason: fmt.Sprintf("cumulative power: expected 4 bytes, got %d", len(edt)), Raw: edt}
	}
	raw := binary.BigEndian.Uint32(edt)
	return roundTo(float64(raw)*multiplier, decimalsFor(multiplier)), nil
}

// DecodeInstantPower decodes the E7 property: a 4-byte two's-complement
// signed integer in watts.
func DecodeInstantPower(edt []byte) (int32, error) {
	if len(edt) != 4 {
		return 0, &DecodeError{Reason: fmt.Sprintf("instant power: expected 4 bytes, got %d", len(edt)), Raw: edt}
	}
	return int32(binary.BigEndian.Uint32(edt)), nil
}

// Current is the decoded E8 instantaneous current reading.
type Current struct {
	R             float64
	T             *float64 // nil for single-phase two-wire meters
	Representative float64
}

// singlePhaseTMarker is the T-phase sentinel meaning "no T, single-phase
// two-wire installation".
const singlePhaseTMarker = 0x7FFE

// DecodeCurrent decodes the E8 property: two 2-byte signed
// deci-ampere values, R-phase then T-phase.
func DecodeCurrent(edt []byte) (Current, error) {
	if len(edt) != 4 {
		return Current{}, &DecodeError{Reason: fmt.Sprintf("current: expected 4 bytes, got %d", len(edt)), Raw: edt}
	}
	rRaw := int16(binary.BigEndian.Uint16(edt[0:2]))
	tRaw := binary.BigEndian.Uint16(edt[2:4])
	r := roundTo(float64(rRaw)/10, 1)
	if tRaw == singlePhaseTMarker {
		return Current{R: r, T: nil, Representative: r}, nil
	}
	t := roundTo(float64(int16(tRaw))/10, 1)
	return Current{R: r, T: &t, Representative: roundTo(r+t, 1)}, nil
}

// ScheduledCumulative is the decoded EA property.
type ScheduledCumulative struct {
	Timestamp time.Time // always UTC
	PowerKWh  float64
}

// DecodeScheduledCumulative decodes the EA property: a 7-byte
// (year,month,day,hour,minute,second) timestamp in loc, followed by a
// 4-byte unsigned cumulative-energy reading scaled by multiplier.
func DecodeScheduledCumulative(edt []byte, multiplier float64, loc *time.Location) (ScheduledCumulative, error) {
	if len(edt) != 11 {
		return ScheduledCumulative{}, &DecodeError{Reason: fmt.Sprintf("scheduled cumulative: expected 11 bytes, got %d", len(edt)), Raw: edt}
	}
	year := binary.BigEndian.Uint16(edt[0:2])
	month, day, hour, minute, second := edt[2], edt[3], edt[4], edt[5], edt[6]
	ts := time.Date(int(year), time.Month(month), int(day), int(hour), int(minute), int(second), 0, loc)
	kwh, err := DecodeCumulativePower(edt[7:11], multiplier)
	if err != nil {
		return ScheduledCumulative{}, err
	}
	return ScheduledCumulative{Timestamp: ts.UTC(), PowerKWh: kwh}, nil
}

// historySlots is the number of half-hour slots in a day's E2 history.
const historySlots = 48

// historySentinel marks a half-hour slot with no recorded reading.
const historySentinel uint32 = 0xFFFFFFFE

// historyEDTLen is the exact EDT length (2-byte day index + 48 × 4-byte
// readings) the E2 property must have.
const historyEDTLen = 2 + historySlots*4

// History is one day's worth of E2 half-hour cumulative-energy readings,
// with the leading day-index field dropped (spec treats it as unused).
type History struct {
	Readings [historySlots]uint32 // historySentinel marks "no data"
}

// DecodeHistory decodes the E2 property into 48 half-hour readings.
func DecodeHistory(edt []byte) (History, error) {
	if len(edt) != historyEDTLen {
		return History{}, &DecodeError{Reason: fmt.Sprintf("history: expected %d bytes, got %d", historyEDTLen, len(edt)), Raw: edt}
	}
	var h History
	for i := 0; i < historySlots; i++ {
		h.Readings[i] = binary.BigEndian.Uint32(edt[2+4*i : 6+4*i])
	}
	return h, nil
}

// Consumption30Min is the result of the 30-minute delta algorithm.
type Consumption30Min struct {
	Timestamp time.Time // UTC, the half-hour boundary of the latest reading
	PowerKWh  float64
}

// Compute30MinConsumption implements the §4.A 30-minute consumption
// algorithm. today is required; yesterday may be nil when unavailable.
// now is the wall-clock moment the "today" history was collected, used to
// anchor which calendar day each slot index belongs to; loc is the
// configured local time zone the meter's half-hour boundaries are
// expressed in.
func Compute30MinConsumption(today History, yesterday *History, multiplier float64, now time.Time, loc *time.Location) (Consumption30Min, bool) {
	type reading struct {
		day   int // 0 = yesterday, 1 = today, matching concatenation order
		slot  int
		value uint32
	}
	var series []reading
	if yesterday != nil {
		for i, v := range yesterday.Readings {
			series = append(series, reading{day: 0, slot: i, value: v})
		}
	}
	for i, v := range today.Readings {
		series = append(series, reading{day: 1, slot: i, value: v})
	}

	var found []reading
	for i := len(series) - 1; i >= 0 && len(found) < 2; i-- {
		if series[i].value == historySentinel {
			continue
		}
		found = append(found, series[i])
	}
	if len(found) < 2 {
		return Consumption30Min{}, false
	}
	latest, previous := found[0], found[1]

	diff := int64(latest.value) - int64(previous.value)
	consumption := roundTo(float64(diff)*multiplier, decimalsFor(multiplier))

	nowLocal := now.In(loc)
	dayStart := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), 0, 0, 0, 0, loc)
	if latest.day == 0 {
		dayStart = dayStart.AddDate(0, 0, -1)
	}
	slotTime := dayStart.Add(time.Duration(latest.slot) * 30 * time.Minute)

	return Consumption30Min{Timestamp: slotTime.UTC(), PowerKWh: consumption}, true
}
