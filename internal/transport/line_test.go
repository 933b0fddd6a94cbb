package transport

import "testing"

func TestClassifyOK(t *testing.T) {
	l := Classify("OK")
	if l.Kind != KindOK {
		t.Fatalf("Kind = %v, want KindOK", l.Kind)
	}
}

func TestClassifyFail(t *testing.T) {
	l := Classify("FAIL ER04")
	if l.Kind != KindFail {
		t.Fatalf("Kind = %v, want KindFail", l.Kind)
	}
}

func TestClassifyEvent(t *testing.T) {
	l := Classify("EVENT 25 FE80:0000:0000:0000:021D:1290:1234:5678")
	if l.Kind != KindEvent {
		t.Fatalf("Kind = %v, want KindEvent", l.Kind)
	}
	if l.Event != 25 {
		t.Errorf("Event = %d, want 25", l.Event)
	}
}

func TestClassifyVersion(t *testing.T) {
	l := Classify("EVER 1.2.10")
	if l.Kind != KindVersion {
		t.Fatalf("Kind = %v, want KindVersion", l.Kind)
	}
	if l.Value != "EVER 1.2.10" {
		t.Errorf("Value = %q", l.Value)
	}
}

func TestClassifyScanFields(t *testing.T) {
	cases := map[string]string{
		"  Channel:21":      "21",
		"  Channel Page:09": "09",
		"  Pan ID:8888":     "8888",
		"  Addr:001D129012345678": "001D129012345678",
		"  LQI:E1":          "E1",
		"  PairID:12345678": "12345678",
	}
	for raw, want := range cases {
		l := Classify(raw)
		if l.Kind != KindScanField {
			t.Fatalf("Classify(%q).Kind = %v, want KindScanField", raw, l.Kind)
		}
		if l.Value != want {
			t.Errorf("Classify(%q).Value = %q, want %q", raw, l.Value, want)
		}
	}
}

func TestClassifyERXUDP(t *testing.T) {
	raw := "ERXUDP FE80:0000:0000:0000:021D:1290:1234:5678 FE80:0000:0000:0000:1234:5678:90AB:CDEF 0E1A 0E1A 001D129012345678 0 0012 1081000202880105FF017201E70400000096"
	l := Classify(raw)
	if l.Kind != KindERXUDP {
		t.Fatalf("Kind = %v, want KindERXUDP", l.Kind)
	}
	if l.ERXUDP == nil {
		t.Fatal("ERXUDP field is nil")
	}
	if l.ERXUDP.DataHex != "1081000202880105FF017201E70400000096" {
		t.Errorf("DataHex = %q", l.ERXUDP.DataHex)
	}
	if l.ERXUDP.DataLen != "0012" {
		t.Errorf("DataLen = %q", l.ERXUDP.DataLen)
	}
}

func TestClassifyERXUDPTooShortIsOther(t *testing.T) {
	l := Classify("ERXUDP too short")
	if l.Kind != KindOther {
		t.Fatalf("Kind = %v, want KindOther for truncated ERXUDP", l.Kind)
	}
}

func TestClassifyOtherFallback(t *testing.T) {
	l := Classify("some unrelated diagnostic text")
	if l.Kind != KindOther {
		t.Fatalf("Kind = %v, want KindOther", l.Kind)
	}
}
