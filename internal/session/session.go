// Package session drives the Wi-SUN radio module from a closed serial port
// to a PANA-joined B-route association, and hands the transaction layer a
// live Session to send ECHONET Lite requests over once joined.
package session

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kuroha-net/hems-agent/internal/control"
	"github.com/kuroha-net/hems-agent/internal/transport"
)

const (
	scanInitialWait  = 20 * time.Second
	defaultScanSpan  = 6
	commandTimeout   = 5 * time.Second
	joinAckTimeout   = 5 * time.Second
	joinEventTimeout = 30 * time.Second
)

// Config configures one Open call.
type Config struct {
	Transport    transport.Config
	Credentials  Credentials
	Endpoint     *Endpoint // pre-configured; nil triggers discovery via SKSCAN/SKLL64
	ScanDuration int       // SKSCAN duration argument; 0 means defaultScanSpan
}

// Session owns the Transport and the association state machine. Once
// Joined it is safe for the transaction layer to use SendFrame/Lines
// directly; the session manager itself is otherwise done.
type Session struct {
	t        *transport.Transport
	state    State
	endpoint Endpoint

	tidMu      sync.Mutex
	tidCounter uint16
}

// NewJoined wraps an already-open Transport as a Session already in the
// Joined state, bypassing the handshake. Used by tests exercising the
// transaction layer against a synthetic transport.
func NewJoined(t *transport.Transport, endpoint Endpoint) *Session {
	return &Session{t: t, state: StateJoined, endpoint: endpoint}
}

// Open runs the full handshake to Joined. On any failure the underlying
// transport is closed and the returned error describes the failing step.
func Open(cfg Config, ctrl *control.Control) (*Session, error) {
	t, err := transport.Open(cfg.Transport)
	if err != nil {
		return nil, err
	}
	s := &Session{t: t, state: StatePortOpen}

	if err := s.handshake(cfg, ctrl); err != nil {
		s.state = StateFailed
		t.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) handshake(cfg Config, ctrl *control.Control) error {
	if err := s.loadVersion(); err != nil {
		return fmt.Errorf("session: SKVER: %w", err)
	}
	if err := s.setCredentials(cfg.Credentials); err != nil {
		return fmt.Errorf("session: credentials: %w", err)
	}
	s.state = StateCredentialsSet

	if cfg.Endpoint != nil && cfg.Endpoint.complete() {
		s.endpoint = *cfg.Endpoint
		s.state = StateScanned
		slog.Info("session: using pre-configured endpoint", "endpoint", s.endpoint)
	} else {
		if err := s.discover(cfg.ScanDuration); err != nil {
			return fmt.Errorf("session: discovery: %w", err)
		}
	}

	if err := s.setRegisters(); err != nil {
		return fmt.Errorf("session: registers: %w", err)
	}
	s.state = StateRegistersSet

	if err := s.join(ctrl); err != nil {
		return fmt.Errorf("session: join: %w", err)
	}
	s.state = StateJoined
	return nil
}

func (s *Session) loadVersion() error {
	if err := s.t.SendText("SKVER"); err != nil {
		return err
	}
	if _, err := s.nextLine(commandTimeout); err != nil { // echo
		return err
	}
	ver, err := s.expect(transport.KindVersion, commandTimeout)
	if err != nil {
		return err
	}
	slog.Debug("session: module version", "line", ver.Raw)
	if _, err := s.expect(transport.KindOK, commandTimeout); err != nil {
		return err
	}
	return nil
}

func (s *Session) setCredentials(c Credentials) error {
	if err := s.sendAndExpectOK(fmt.Sprintf("SKSETRBID %s", c.RouteBID)); err != nil {
		return fmt.Errorf("SKSETRBID: %w", err)
	}
	if err := s.sendAndExpectOK(fmt.Sprintf("SKSETPWD C %s", c.RouteBPassword)); err != nil {
		return fmt.Errorf("SKSETPWD: %w", err)
	}
	return nil
}

func (s *Session) discover(scanDuration int) error {
	span := scanDuration
	if span == 0 {
		span = defaultScanSpan
	}
	s.state = StateScanning
	channel, panID, addr, err := s.scan(span, scanInitialWait)
	if err != nil {
		return fmt.Errorf("SKSCAN: %w", err)
	}

	ipv6, err := s.toIPv6(addr)
	if err != nil {
		return fmt.Errorf("SKLL64: %w", err)
	}

	s.endpoint = Endpoint{Channel: channel, PanID: panID, IPv6: ipv6}
	s.state = StateScanned
	slog.Info("session: discovered meter", "endpoint", s.endpoint)
	return nil
}

func (s *Session) scan(duration int, timeout time.Duration) (channel, panID, addr string, err error) {
	if err := s.t.SendText(fmt.Sprintf("SKSCAN 2 FFFFFFFF %d", duration)); err != nil {
		return "", "", "", err
	}
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-s.t.Lines():
			if !ok {
				return "", "", "", fmt.Errorf("transport closed during scan: %w", s.t.Err())
			}
			switch line.Kind {
			case transport.KindScanField:
				switch line.Key {
				case "Channel":
					channel = line.Value
				case "Pan ID":
					panID = line.Value
				case "Addr":
					addr = line.Value
				}
			case transport.KindEvent:
				if line.Event == 22 {
					if addr == "" {
						return "", "", "", fmt.Errorf("scan completed with no Addr found")
					}
					return channel, panID, addr, nil
				}
			case transport.KindFail, transport.KindError:
				return "", "", "", fmt.Errorf("module reported %s", line.Raw)
			default:
				slog.Debug("session: ignoring line during scan", "raw", line.Raw)
			}
		case <-deadline:
			return "", "", "", fmt.Errorf("scan timed out after %s", timeout)
		}
	}
}

func (s *Session) toIPv6(addr string) (string, error) {
	if err := s.t.SendText(fmt.Sprintf("SKLL64 %s", addr)); err != nil {
		return "", err
	}
	if _, err := s.nextLine(commandTimeout); err != nil { // echo
		return "", err
	}
	line, err := s.nextLine(commandTimeout)
	if err != nil {
		return "", err
	}
	ipv6 := strings.TrimSpace(line.Raw)
	if ipv6 == "" {
		return "", fmt.Errorf("empty IPv6 response")
	}
	return ipv6, nil
}

func (s *Session) setRegisters() error {
	if err := s.sendAndExpectOK(fmt.Sprintf("SKSREG S2 %s", s.endpoint.Channel)); err != nil {
		return fmt.Errorf("SKSREG S2: %w", err)
	}
	if err := s.sendAndExpectOK(fmt.Sprintf("SKSREG S3 %s", s.endpoint.PanID)); err != nil {
		return fmt.Errorf("SKSREG S3: %w", err)
	}
	return nil
}

func (s *Session) join(ctrl *control.Control) error {
	s.state = StateJoining
	if err := s.sendAndExpectOK(fmt.Sprintf("SKJOIN %s", s.endpoint.IPv6)); err != nil {
		return fmt.Errorf("SKJOIN: %w", err)
	}
	return s.waitJoined(joinEventTimeout, ctrl)
}

func (s *Session) waitJoined(timeout time.Duration, ctrl *control.Control) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case line, ok := <-s.t.Lines():
			if !ok {
				return fmt.Errorf("transport closed during join wait: %w", s.t.Err())
			}
			if line.Kind != transport.KindEvent {
				slog.Debug("session: ignoring line during join wait", "raw", line.Raw)
				continue
			}
			switch line.Event {
			case 25:
				slog.Info("session: PANA association established")
				return nil
			case 24:
				return fmt.Errorf("PANA authentication failed (EVENT 24)")
			}
		case <-ticker.C:
			if ctrl != nil && !ctrl.Running() {
				return fmt.Errorf("join aborted by shutdown request")
			}
		case <-deadline:
			return fmt.Errorf("join timed out after %s", timeout)
		}
	}
}

// sendAndExpectOK writes cmd, discards the module's echo, and requires an
// OK reply.
func (s *Session) sendAndExpectOK(cmd string) error {
	if err := s.t.SendText(cmd); err != nil {
		return err
	}
	if _, err := s.nextLine(commandTimeout); err != nil { // echo
		return err
	}
	_, err := s.expect(transport.KindOK, joinAckTimeout)
	return err
}

// expect reads lines until one of Kind k arrives, discarding everything
// else. FAIL/ERROR lines abort immediately.
func (s *Session) expect(k transport.LineKind, timeout time.Duration) (transport.Line, error) {
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-s.t.Lines():
			if !ok {
				return transport.Line{}, fmt.Errorf("transport closed: %w", s.t.Err())
			}
			if line.Kind == transport.KindFail || line.Kind == transport.KindError {
				return transport.Line{}, fmt.Errorf("module reported %s", line.Raw)
			}
			if line.Kind == k {
				return line, nil
			}
			slog.Debug("session: ignoring line", "want", k, "got", line.Kind, "raw", line.Raw)
		case <-deadline:
			return transport.Line{}, fmt.Errorf("timed out waiting for %s", k)
		}
	}
}

// nextLine reads exactly the next line regardless of classification, used
// to discard the module's verbatim command echo.
func (s *Session) nextLine(timeout time.Duration) (transport.Line, error) {
	select {
	case line, ok := <-s.t.Lines():
		if !ok {
			return transport.Line{}, fmt.Errorf("transport closed: %w", s.t.Err())
		}
		return line, nil
	case <-time.After(timeout):
		return transport.Line{}, fmt.Errorf("timed out waiting for line")
	}
}

// State reports the current association state.
func (s *Session) State() State {
	return s.state
}

// Endpoint reports the discovered (or pre-configured) meter endpoint.
// Meaningful once State is at least Scanned.
func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// Lines exposes the transport's classified line stream so the transaction
// layer can wait on ERXUDP/OK/FAIL directly.
func (s *Session) Lines() <-chan transport.Line {
	return s.t.Lines()
}

// SendText writes a bare AT-style command.
func (s *Session) SendText(cmd string) error {
	return s.t.SendText(cmd)
}

// SendFrame writes the SKSENDTO text prefix followed by the raw ECHONET
// Lite frame bytes.
func (s *Session) SendFrame(prefix string, payload []byte) error {
	return s.t.SendFrame(prefix, payload)
}

// TransportErr reports the transport's terminal read error, if any.
func (s *Session) TransportErr() error {
	return s.t.Err()
}

// NextTID returns the next transaction id: a per-session monotonic
// counter starting at 1 and wrapping 0xFFFF back to 1, never 0.
func (s *Session) NextTID() uint16 {
	s.tidMu.Lock()
	defer s.tidMu.Unlock()
	s.tidCounter++
	if s.tidCounter == 0 {
		s.tidCounter = 1
	}
	return s.tidCounter
}

// Close releases the underlying UART.
func (s *Session) Close() error {
	return s.t.Close()
}
