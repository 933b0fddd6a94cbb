package output

import (
	"strconv"
	"time"

	"github.com/kuroha-net/hems-agent/internal/meter"
)

// csvColumns is the authoritative, fixed CSV column order.
var csvColumns = []string{
	"timestamp",
	"cumulative_power_kwh",
	"instant_power_w",
	"current_a",
	"current_r_a",
	"current_t_a",
	"historical_timestamp",
	"historical_cumulative_power_kwh",
	"recent_30min_timestamp",
	"recent_30min_consumption_kwh",
}

// toMap renders a record as the sparse key set described in §3: absent
// measurements are simply missing keys, not null or zero values, except
// current_t_a which is explicitly null for a single-phase meter.
func toMap(rec meter.Record) map[string]any {
	m := map[string]any{"timestamp": rec.Timestamp.Format(time.RFC3339)}
	if rec.HasCumulativePower {
		m["cumulative_power_kwh"] = rec.CumulativePowerKWh
	}
	if rec.HasInstantPower {
		m["instant_power_w"] = rec.InstantPowerW
	}
	if rec.HasCurrent {
		m["current_a"] = rec.CurrentA
		m["current_r_a"] = rec.CurrentRA
		if rec.HasCurrentTA {
			m["current_t_a"] = rec.CurrentTA
		} else {
			m["current_t_a"] = nil
		}
	}
	if rec.HasHistorical {
		m["historical_timestamp"] = rec.HistoricalTimestamp.Format(time.RFC3339)
		m["historical_cumulative_power_kwh"] = rec.HistoricalPowerKWh
	}
	if rec.HasRecent30Min {
		m["recent_30min_timestamp"] = rec.Recent30MinTimestamp.Format(time.RFC3339)
		m["recent_30min_consumption_kwh"] = rec.Recent30MinKWh
	}
	return m
}

// toCSVRow renders a record in csvColumns order, empty string for any
// absent field.
func toCSVRow(rec meter.Record) []string {
	row := make([]string, len(csvColumns))
	row[0] = rec.Timestamp.Format(time.RFC3339)
	if rec.HasCumulativePower {
		row[1] = strconv.FormatFloat(rec.CumulativePowerKWh, 'f', -1, 64)
	}
	if rec.HasInstantPower {
		row[2] = strconv.FormatInt(int64(rec.InstantPowerW), 10)
	}
	if rec.HasCurrent {
		row[3] = strconv.FormatFloat(rec.CurrentA, 'f', -1, 64)
		row[4] = strconv.FormatFloat(rec.CurrentRA, 'f', -1, 64)
		if rec.HasCurrentTA {
			row[5] = strconv.FormatFloat(rec.CurrentTA, 'f', -1, 64)
		}
	}
	if rec.HasHistorical {
		row[6] = rec.HistoricalTimestamp.Format(time.RFC3339)
		row[7] = strconv.FormatFloat(rec.HistoricalPowerKWh, 'f', -1, 64)
	}
	if rec.HasRecent30Min {
		row[8] = rec.Recent30MinTimestamp.Format(time.RFC3339)
		row[9] = strconv.FormatFloat(rec.Recent30MinKWh, 'f', -1, 64)
	}
	return row
}
