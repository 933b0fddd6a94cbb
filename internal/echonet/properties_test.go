package echonet

import (
	"encoding/hex"
	"testing"
	"time"
)

func edt(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestDecodeInstantPowerPositive(t *testing.T) {
	v, err := DecodeInstantPower(edt("00000096"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 150 {
		t.Errorf("got %d, want 150", v)
	}
}

func TestDecodeInstantPowerNegative(t *testing.T) {
	v, err := DecodeInstantPower(edt("FFFFFF9C"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != -100 {
		t.Errorf("got %d, want -100", v)
	}
}

func TestDecodeUnitAndCumulative(t *testing.T) {
	mult, ok := DecodeUnit(edt("01"))
	if !ok {
		t.Fatal("expected known unit byte")
	}
	if mult != 0.1 {
		t.Fatalf("multiplier = %v, want 0.1", mult)
	}
	kwh, err := DecodeCumulativePower(edt("000003E8"), mult)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kwh != 100.0 {
		t.Errorf("cumulative kWh = %v, want 100.0", kwh)
	}
}

func TestDecodeUnitUnknownDefaultsToOne(t *testing.T) {
	mult, ok := DecodeUnit(edt("FF"))
	if ok {
		t.Fatal("expected unknown unit byte to report ok=false")
	}
	if mult != 1 {
		t.Errorf("multiplier = %v, want 1 (default)", mult)
	}
}

func TestDecodeUnitForAllKnownCodes(t *testing.T) {
	for code, want := range unitMultiplier {
		mult, ok := DecodeUnit([]byte{code})
		if !ok {
			t.Fatalf("unit byte %#x should be known", code)
		}
		if mult != want {
			t.Errorf("unit %#x = %v, want %v", code, mult, want)
		}
	}
}

func TestDecodeCurrentSinglePhase(t *testing.T) {
	c, err := DecodeCurrent(edt("00647FFE"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.R != 10.0 {
		t.Errorf("R = %v, want 10.0", c.R)
	}
	if c.T != nil {
		t.Errorf("T = %v, want nil", *c.T)
	}
	if c.Representative != 10.0 {
		t.Errorf("Representative = %v, want 10.0", c.Representative)
	}
}

func TestDecodeCurrentThreePhase(t *testing.T) {
	c, err := DecodeCurrent(edt("00640032"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.R != 10.0 {
		t.Errorf("R = %v, want 10.0", c.R)
	}
	if c.T == nil || *c.T != 5.0 {
		t.Errorf("T = %v, want 5.0", c.T)
	}
	if c.Representative != 15.0 {
		t.Errorf("Representative = %v, want 15.0", c.Representative)
	}
}

func TestDecodeScheduledCumulative(t *testing.T) {
	loc := time.FixedZone("JST", 9*3600)
	sc, err := DecodeScheduledCumulative(edt("07E8010F0A000000000064"), 0.1, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantTS, _ := time.Parse(time.RFC3339, "2024-01-15T01:00:00Z")
	if !sc.Timestamp.Equal(wantTS) {
		t.Errorf("timestamp = %v, want %v", sc.Timestamp, wantTS)
	}
	if sc.PowerKWh != 10.0 {
		t.Errorf("power = %v, want 10.0", sc.PowerKWh)
	}
}

func sentinelHistory() History {
	var h History
	for i := range h.Readings {
		h.Readings[i] = historySentinel
	}
	return h
}

func TestCompute30MinAllSentinel(t *testing.T) {
	loc := time.UTC
	_, ok := Compute30MinConsumption(sentinelHistory(), nil, 1, time.Now(), loc)
	if ok {
		t.Fatal("expected not computable with all-sentinel history")
	}
}

func TestCompute30MinAcrossMidnight(t *testing.T) {
	loc := time.UTC
	yesterday := sentinelHistory()
	yesterday.Readings[47] = 1000
	today := sentinelHistory()
	today.Readings[0] = 1010

	now := time.Date(2024, 3, 2, 0, 5, 0, 0, loc)
	c, ok := Compute30MinConsumption(today, &yesterday, 0.1, now, loc)
	if !ok {
		t.Fatal("expected computable result")
	}
	if c.PowerKWh != 1.0 {
		t.Errorf("consumption = %v, want 1.0", c.PowerKWh)
	}
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, loc)
	if !c.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", c.Timestamp, want)
	}
}

func TestCompute30MinExactlyTwoReadings(t *testing.T) {
	loc := time.UTC
	today := sentinelHistory()
	today.Readings[10] = 500
	today.Readings[20] = 700

	now := time.Date(2024, 3, 2, 12, 0, 0, 0, loc)
	c, ok := Compute30MinConsumption(today, nil, 1, now, loc)
	if !ok {
		t.Fatal("expected computable result with exactly two non-sentinel readings")
	}
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, loc).Add(20 * 30 * time.Minute)
	if !c.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want slot of later reading %v", c.Timestamp, want)
	}
	if c.PowerKWh != 200 {
		t.Errorf("consumption = %v, want 200", c.PowerKWh)
	}
}

func TestCompute30MinIdempotent(t *testing.T) {
	loc := time.UTC
	today := sentinelHistory()
	today.Readings[5] = 100
	today.Readings[6] = 150
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, loc)

	a, okA := Compute30MinConsumption(today, nil, 1, now, loc)
	b, okB := Compute30MinConsumption(today, nil, 1, now, loc)
	if okA != okB || a != b {
		t.Errorf("algorithm not idempotent: %+v vs %+v", a, b)
	}
}

func TestDecodeHistoryWrongLength(t *testing.T) {
	if _, err := DecodeHistory([]byte{0x00, 0x01}); err == nil {
		t.Fatal("expected error for wrong-length history EDT")
	}
}
