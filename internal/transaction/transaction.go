// Package transaction implements the Get/SetC request-response layer on
// top of a joined session.Session: transaction id allocation, SKSENDTO
// framing, and matching the asynchronous ERXUDP reply to the outstanding
// request by TID, ESV, and EPC.
package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kuroha-net/hems-agent/internal/echonet"
	"github.com/kuroha-net/hems-agent/internal/session"
	"github.com/kuroha-net/hems-agent/internal/transport"
)

const (
	ackTimeout      = 5 * time.Second
	responseTimeout = 20 * time.Second
)

// ErrNoData marks a transaction that completed without usable data: an
// ESV in the SNA family, or a response-wait timeout. The tick continues;
// the property is simply absent from the record.
var ErrNoData = errors.New("transaction: no data")

// Layer sends one request at a time over a joined Session. The poller is
// responsible for never issuing a second request before the first
// completes.
type Layer struct {
	session *session.Session
}

// New returns a transaction Layer bound to an already-joined session.
func New(s *session.Session) *Layer {
	return &Layer{session: s}
}

// Get issues an ECHONET Lite Get request for epc and returns the decoded
// property from the matching response.
func (l *Layer) Get(epc byte) (echonet.Property, error) {
	tid := l.session.NextTID()
	frame := echonet.NewGetRequest(tid, epc)
	resp, err := l.roundTrip(frame, echonet.ESVGetRes, epc)
	if err != nil {
		return echonet.Property{}, err
	}
	prop, ok := resp.Property(epc)
	if !ok {
		return echonet.Property{}, fmt.Errorf("%w: response missing EPC %#x", ErrNoData, epc)
	}
	return prop, nil
}

// SetC issues an ECHONET Lite SetC (write-with-response) request.
func (l *Layer) SetC(epc byte, edt []byte) error {
	tid := l.session.NextTID()
	frame := echonet.NewSetCRequest(tid, epc, edt)
	_, err := l.roundTrip(frame, echonet.ESVSetRes, epc)
	return err
}

func (l *Layer) roundTrip(frame echonet.Frame, expectedESV, expectedEPC byte) (echonet.Frame, error) {
	payload := frame.Encode()
	ipv6 := l.session.Endpoint().IPv6
	prefix := fmt.Sprintf("SKSENDTO 1 %s 0E1A 1 %04X ", ipv6, len(payload))

	if err := l.session.SendFrame(prefix, payload); err != nil {
		return echonet.Frame{}, fmt.Errorf("transaction: send: %w", err)
	}
	if err := l.awaitAck(); err != nil {
		return echonet.Frame{}, err
	}
	return l.awaitResponse(frame.TID, expectedESV, expectedEPC)
}

// awaitAck consumes lines until the module's synchronous OK/FAIL for the
// SKSENDTO write. Anything else (the command echo, stray chatter) is
// discarded.
func (l *Layer) awaitAck() error {
	deadline := time.After(ackTimeout)
	for {
		select {
		case line, ok := <-l.session.Lines():
			if !ok {
				return fmt.Errorf("transaction: transport closed: %w", l.session.TransportErr())
			}
			switch line.Kind {
			case transport.KindOK:
				return nil
			case transport.KindFail:
				return fmt.Errorf("transaction: send failed: %s", line.Raw)
			default:
				slog.Debug("transaction: ignoring line while awaiting ack", "raw", line.Raw)
			}
		case <-deadline:
			return fmt.Errorf("transaction: no ack within %s", ackTimeout)
		}
	}
}

// awaitResponse reads lines until a matching ERXUDP arrives, the deadline
// elapses, or a FAIL line aborts the transaction outright. Non-matching
// ERXUDP frames (wrong TID, wrong ESV, missing EPC) are logged and
// ignored rather than treated as failures, since late replies from a
// prior transaction can still be in flight.
func (l *Layer) awaitResponse(tid uint16, expectedESV, expectedEPC byte) (echonet.Frame, error) {
	deadline := time.After(responseTimeout)
	for {
		select {
		case line, ok := <-l.session.Lines():
			if !ok {
				return echonet.Frame{}, fmt.Errorf("transaction: transport closed: %w", l.session.TransportErr())
			}
			if line.Kind == transport.KindFail {
				return echonet.Frame{}, fmt.Errorf("transaction: module reported %s", line.Raw)
			}
			if line.Kind != transport.KindERXUDP {
				continue
			}
			f, matched, err := l.matchERXUDP(line.ERXUDP, tid, expectedESV, expectedEPC)
			if err != nil {
				return echonet.Frame{}, err
			}
			if matched {
				return f, nil
			}
		case <-deadline:
			return echonet.Frame{}, fmt.Errorf("%w: timed out after %s", ErrNoData, responseTimeout)
		}
	}
}

func (l *Layer) matchERXUDP(u *transport.ERXUDPFrame, tid uint16, expectedESV, expectedEPC byte) (echonet.Frame, bool, error) {
	raw, err := hex.DecodeString(u.DataHex)
	if err != nil {
		slog.Debug("transaction: ERXUDP payload is not valid hex", "err", err)
		return echonet.Frame{}, false, nil
	}
	f, err := echonet.Parse(raw)
	if err != nil {
		slog.Debug("transaction: ERXUDP payload is not a valid frame", "err", err)
		return echonet.Frame{}, false, nil
	}
	if f.TID != tid {
		slog.Debug("transaction: ignoring ERXUDP with mismatched TID", "got", f.TID, "want", tid)
		return echonet.Frame{}, false, nil
	}
	if echonet.IsSNA(f.ESV) {
		return echonet.Frame{}, false, fmt.Errorf("%w: ESV %#x is SNA", ErrNoData, f.ESV)
	}
	if f.ESV != expectedESV {
		slog.Debug("transaction: ignoring ERXUDP with unexpected ESV", "got", f.ESV, "want", expectedESV)
		return echonet.Frame{}, false, nil
	}
	if _, ok := f.Property(expectedEPC); !ok {
		slog.Debug("transaction: ignoring ERXUDP missing expected EPC", "epc", expectedEPC)
		return echonet.Frame{}, false, nil
	}
	return f, true, nil
}
