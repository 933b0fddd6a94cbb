// Package meter implements one collection "tick": a fixed sequence of
// Get/SetC requests against the smart meter, each independently
// best-effort, assembled into a Record.
package meter

import (
	"log/slog"
	"time"

	"github.com/kuroha-net/hems-agent/internal/echonet"
)

// transactor is the subset of *transaction.Layer the poller needs. Taking
// an interface here keeps the poller testable without a live session.
type transactor interface {
	Get(epc byte) (echonet.Property, error)
	SetC(epc byte, edt []byte) error
}

// Poller runs one tick at a time against a joined session's transaction
// layer.
type Poller struct {
	layer transactor
	loc   *time.Location
}

// New returns a Poller that decodes EA/E2 meter timestamps in loc.
func New(layer transactor, loc *time.Location) *Poller {
	return &Poller{layer: layer, loc: loc}
}

// Tick runs the full fetch sequence and returns the assembled record. now
// is the wall-clock moment the tick started, used both as the record's
// own timestamp and to anchor the 30-minute-history slot-to-calendar-day
// mapping.
func (p *Poller) Tick(now time.Time) Record {
	rec := Record{Timestamp: now.UTC()}

	multiplier := p.fetchMultiplier()
	p.fetchCumulative(&rec, multiplier)
	p.fetchInstantPower(&rec)
	p.fetchCurrent(&rec)
	p.fetchScheduledCumulative(&rec, multiplier)
	p.fetchRecent30Min(&rec, multiplier, now)

	return rec
}

func (p *Poller) fetchMultiplier() float64 {
	prop, err := p.layer.Get(echonet.EPCCumulativePowerUnit)
	if err != nil {
		slog.Warn("meter: unit fetch failed, defaulting multiplier to 1", "err", err)
		return 1
	}
	m, ok := echonet.DecodeUnit(prop.EDT)
	if !ok {
		slog.Warn("meter: unrecognised unit byte, defaulting multiplier to 1", "edt", prop.EDT)
	}
	return m
}

func (p *Poller) fetchCumulative(rec *Record, multiplier float64) {
	prop, err := p.layer.Get(echonet.EPCCumulativePower)
	if err != nil {
		slog.Warn("meter: cumulative power fetch failed", "err", err)
		return
	}
	v, err := echonet.DecodeCumulativePower(prop.EDT, multiplier)
	if err != nil {
		slog.Warn("meter: cumulative power decode failed", "err", err)
		return
	}
	rec.CumulativePowerKWh = v
	rec.HasCumulativePower = true
}

func (p *Poller) fetchInstantPower(rec *Record) {
	prop, err := p.layer.Get(echonet.EPCInstantPower)
	if err != nil {
		slog.Warn("meter: instant power fetch failed", "err", err)
		return
	}
	v, err := echonet.DecodeInstantPower(prop.EDT)
	if err != nil {
		slog.Warn("meter: instant power decode failed", "err", err)
		return
	}
	rec.InstantPowerW = v
	rec.HasInstantPower = true
}

func (p *Poller) fetchCurrent(rec *Record) {
	prop, err := p.layer.Get(echonet.EPCInstantCurrent)
	if err != nil {
		slog.Warn("meter: instant current fetch failed", "err", err)
		return
	}
	c, err := echonet.DecodeCurrent(prop.EDT)
	if err != nil {
		slog.Warn("meter: instant current decode failed", "err", err)
		return
	}
	rec.CurrentA = c.Representative
	rec.CurrentRA = c.R
	rec.HasCurrent = true
	if c.T != nil {
		rec.CurrentTA = *c.T
		rec.HasCurrentTA = true
	}
}

func (p *Poller) fetchScheduledCumulative(rec *Record, multiplier float64) {
	prop, err := p.layer.Get(echonet.EPCScheduledCumulative)
	if err != nil {
		slog.Warn("meter: scheduled cumulative fetch failed", "err", err)
		return
	}
	sc, err := echonet.DecodeScheduledCumulative(prop.EDT, multiplier, p.loc)
	if err != nil {
		slog.Warn("meter: scheduled cumulative decode failed", "err", err)
		return
	}
	rec.HistoricalTimestamp = sc.Timestamp
	rec.HistoricalPowerKWh = sc.PowerKWh
	rec.HasHistorical = true
}

// historyDayToday/historyDayYesterday are the E5 selector values.
const (
	historyDayToday     byte = 0x00
	historyDayYesterday byte = 0x01
)

func (p *Poller) fetchRecent30Min(rec *Record, multiplier float64, now time.Time) {
	today, ok := p.fetchHistory(historyDayToday)
	if !ok {
		return
	}
	if c, ok := echonet.Compute30MinConsumption(today, nil, multiplier, now, p.loc); ok {
		rec.Recent30MinTimestamp = c.Timestamp
		rec.Recent30MinKWh = c.PowerKWh
		rec.HasRecent30Min = true
		return
	}

	yesterday, ok := p.fetchHistory(historyDayYesterday)
	if !ok {
		return
	}
	if c, ok := echonet.Compute30MinConsumption(today, &yesterday, multiplier, now, p.loc); ok {
		rec.Recent30MinTimestamp = c.Timestamp
		rec.Recent30MinKWh = c.PowerKWh
		rec.HasRecent30Min = true
	}
}

func (p *Poller) fetchHistory(day byte) (echonet.History, bool) {
	if err := p.layer.SetC(echonet.EPCHistoryCollectDay, []byte{day}); err != nil {
		slog.Warn("meter: history-day selector failed", "day", day, "err", err)
		return echonet.History{}, false
	}
	prop, err := p.layer.Get(echonet.EPCCumulativePowerHistory1)
	if err != nil {
		slog.Warn("meter: history fetch failed", "day", day, "err", err)
		return echonet.History{}, false
	}
	h, err := echonet.DecodeHistory(prop.EDT)
	if err != nil {
		slog.Warn("meter: history decode failed", "day", day, "err", err)
		return echonet.History{}, false
	}
	return h, true
}
