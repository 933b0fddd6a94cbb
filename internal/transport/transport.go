// Package transport owns the serial link to the Wi-SUN radio module: 8N1
// framing, line-oriented reads with CR/LF/CRLF stripping, and the raw
// SKSENDTO write path that appends a binary ECHONET Lite frame after a text
// prefix with no trailing CRLF. It classifies every inbound line (see
// Classify) but never routes lines to a consumer — that is the session
// manager's and the transaction layer's job.
package transport

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// Config configures the UART. BaudRate defaults to 115200 when zero;
// ReadTimeout defaults to 10s when zero.
type Config struct {
	PortName    string
	BaudRate    int
	ReadTimeout time.Duration
}

const (
	defaultBaudRate    = 115200
	defaultReadTimeout = 10 * time.Second
)

// Transport is the open UART plus its background line reader.
type Transport struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
	lines  chan Line
	errc   chan error
}

// Open opens the UART and starts the background line reader. The returned
// Transport owns the port exclusively until Close.
func Open(cfg Config) (*Transport, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = defaultBaudRate
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.PortName,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        8,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.PortName, err)
	}
	return New(port), nil
}

// New wraps an already-open stream as a Transport and starts its
// background line reader. Production callers use Open; tests and anything
// driving the link over a non-UART stream (a pipe, a mock) use New
// directly.
func New(rw io.ReadWriteCloser) *Transport {
	t := &Transport{
		port:   rw,
		reader: bufio.NewReader(rw),
		lines:  make(chan Line, 64),
		errc:   make(chan error, 1),
	}
	go t.readLoop()
	return t
}

// Lines returns the classified-line stream. It is closed, after which Err
// reports the terminal read error, when the serial link is closed or a read
// fails.
func (t *Transport) Lines() <-chan Line {
	return t.lines
}

// Err returns the error that ended the read loop, or nil while the loop is
// running or when it ended at EOF. A read error caused by Close is also
// reported. The error is handed to the first caller only; later calls
// return nil.
func (t *Transport) Err() error {
	select {
	case err := <-t.errc:
		return err
	default:
		return nil
	}
}

func (t *Transport) readLoop() {
	defer close(t.lines)
	for {
		raw, err := t.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				t.errc <- fmt.Errorf("transport: read: %w", err)
				slog.Error("transport read failed", "err", err)
			}
			return
		}
		stripped := strings.TrimRight(raw, "\r\n")
		t.lines <- Classify(stripped)
	}
}

// SendText writes a CRLF-terminated AT-style command.
func (t *Transport) SendText(cmd string) error {
	_, err := t.port.Write([]byte(cmd + "\r\n"))
	if err != nil {
		return fmt.Errorf("transport: write %q: %w", cmd, err)
	}
	return nil
}

// SendFrame writes the SKSENDTO text prefix (already including its
// trailing space) followed immediately by the raw binary frame payload,
// with no CRLF appended.
func (t *Transport) SendFrame(prefix string, payload []byte) error {
	buf := make([]byte, 0, len(prefix)+len(payload))
	buf = append(buf, prefix...)
	buf = append(buf, payload...)
	if _, err := t.port.Write(buf); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// Close closes the UART. The background reader exits on its next read
// error.
func (t *Transport) Close() error {
	return t.port.Close()
}
