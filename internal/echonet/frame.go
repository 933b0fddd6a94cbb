// Package echonet implements the ECHONET Lite frame codec used to talk to a
// low-voltage smart meter over a Wi-SUN B-route session: frame encoding for
// Get/SetC requests, frame parsing for responses, and typed decoding of the
// handful of power-meter properties this agent cares about.
package echonet

import (
	"encoding/binary"
	"fmt"
)

// EHD is the fixed ECHONET Lite header used by every frame this agent
// builds or expects to receive.
const EHD uint16 = 0x1081

// SEOJ/DEOJ are constant for this system: a controller talking to a
// low-voltage smart meter.
var (
	SEOJController  = [3]byte{0x05, 0xFF, 0x01}
	DEOJSmartMeter  = [3]byte{0x02, 0x88, 0x01}
)

// ESV service codes relevant to this agent.
const (
	ESVGet       byte = 0x62
	ESVSetC      byte = 0x61
	ESVGetRes    byte = 0x72
	ESVSetRes    byte = 0x71
	esvSNAMask   byte = 0xF0
	esvSNAMarker byte = 0x50
)

// Property codes (EPC) used by this system.
const (
	EPCCumulativePower         byte = 0xE0
	EPCCumulativePowerUnit     byte = 0xE1
	EPCCumulativePowerHistory1 byte = 0xE2
	EPCHistoryCollectDay       byte = 0xE5
	EPCInstantPower            byte = 0xE7
	EPCInstantCurrent          byte = 0xE8
	EPCScheduledCumulative     byte = 0xEA
)

// IsSNA reports whether esv belongs to the "service not available"
// error-response family (high nibble 5).
func IsSNA(esv byte) bool {
	return esv&esvSNAMask == esvSNAMarker
}

// Property is one EPC/PDC/EDT tuple inside a frame's property list.
type Property struct {
	EPC byte
	EDT []byte
}

// Frame is a decoded or to-be-encoded ECHONET Lite frame.
type Frame struct {
	TID        uint16
	SEOJ       [3]byte
	DEOJ       [3]byte
	ESV        byte
	Properties []Property
}

// NewGetRequest builds a single-property Get request frame.
func NewGetRequest(tid uint16, epc byte) Frame {
	return Frame{
		TID:        tid,
		SEOJ:       SEOJController,
		DEOJ:       DEOJSmartMeter,
		ESV:        ESVGet,
		Properties: []Property{{EPC: epc}},
	}
}

// NewSetCRequest builds a single-property SetC (write, response expected)
// request frame.
func NewSetCRequest(tid uint16, epc byte, edt []byte) Frame {
	return Frame{
		TID:        tid,
		SEOJ:       SEOJController,
		DEOJ:       DEOJSmartMeter,
		ESV:        ESVSetC,
		Properties: []Property{{EPC: epc, EDT: edt}},
	}
}

// Encode serializes the frame to its wire representation.
func (f Frame) Encode() []byte {
	b := make([]byte, 0, 12+4*len(f.Properties))
	b = binary.BigEndian.AppendUint16(b, EHD)
	b = binary.BigEndian.AppendUint16(b, f.TID)
	b = append(b, f.SEOJ[:]...)
	b = append(b, f.DEOJ[:]...)
	b = append(b, f.ESV, byte(len(f.Properties)))
	for _, p := range f.Properties {
		b = append(b, p.EPC, byte(len(p.EDT)))
		b = append(b, p.EDT...)
	}
	return b
}

// DecodeError is a structured decode failure, carrying enough detail to
// diagnose a malformed or truncated frame without re-parsing it.
type DecodeError struct {
	Reason string
	Raw    []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("echonet: %s (%d bytes)", e.Reason, len(e.Raw))
}

// Parse decodes a wire-format ECHONET Lite frame.
func Parse(data []byte) (Frame, error) {
	if len(data) < 12 {
		return Frame{}, &DecodeError{Reason: "frame shorter than fixed prefix", Raw: data}
	}
	ehd := binary.BigEndian.Uint16(data[0:2])
	if ehd != EHD {
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("unexpected EHD %#04x", ehd), Raw: data}
	}
	f := Frame{
		TID:  binary.BigEndian.Uint16(data[2:4]),
		SEOJ: [3]byte(data[4:7]),
		DEOJ: [3]byte(data[7:10]),
		ESV:  data[10],
	}
	opc := int(data[11])
	rest := data[12:]
	for i := 0; i < opc; i++ {
		if len(rest) < 2 {
			return Frame{}, &DecodeError{Reason: "truncated property entry", Raw: data}
		}
		epc, pdc := rest[0], int(rest[1])
		if len(rest) < 2+pdc {
			return Frame{}, &DecodeError{Reason: "truncated property data", Raw: data}
		}
		f.Properties = append(f.Properties, Property{EPC: epc, EDT: rest[2 : 2+pdc]})
		rest = rest[2+pdc:]
	}
	return f, nil
}

// Property looks up a property by EPC in the frame's property list.
func (f Frame) Property(epc byte) (Property, bool) {
	for _, p := range f.Properties {
		if p.EPC == epc {
			return p, true
		}
	}
	return Property{}, false
}
