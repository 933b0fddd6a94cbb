package meter

import "time"

// Record is one tick's worth of collected measurements. All timestamp
// fields are zero-value (and the corresponding bool false) when the
// property behind them was not obtainable that tick.
type Record struct {
	Timestamp time.Time // always set, UTC

	CumulativePowerKWh   float64
	HasCumulativePower   bool
	InstantPowerW        int32
	HasInstantPower      bool
	CurrentA             float64
	CurrentRA            float64
	CurrentTA            float64
	HasCurrentTA         bool
	HasCurrent           bool
	HistoricalTimestamp  time.Time
	HasHistorical        bool
	HistoricalPowerKWh   float64
	Recent30MinTimestamp time.Time
	HasRecent30Min       bool
	Recent30MinKWh       float64
}

// Substantive reports whether the record carries at least one measurement
// beyond its timestamp; per the partial-result-safety invariant, a record
// with none of these is dropped rather than forwarded to sinks.
func (r Record) Substantive() bool {
	return r.HasCumulativePower || r.HasInstantPower || r.HasCurrent || r.HasHistorical || r.HasRecent30Min
}
