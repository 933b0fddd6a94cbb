package transport

import (
	"io"
	"net"
	"testing"
	"time"
)

// pipeHarness wires a Transport to the far end of an in-memory net.Pipe so
// tests can write bytes as if they came from the radio module and read
// back what the Transport sent.
type pipeHarness struct {
	transport *Transport
	far       net.Conn
}

func newPipeHarness(t *testing.T) *pipeHarness {
	t.Helper()
	near, far := net.Pipe()
	tr := New(near)
	t.Cleanup(func() { tr.Close(); far.Close() })
	return &pipeHarness{transport: tr, far: far}
}

func (h *pipeHarness) writeLine(t *testing.T, s string) {
	t.Helper()
	if _, err := h.far.Write([]byte(s + "\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (h *pipeHarness) readLine(t *testing.T, timeout time.Duration) Line {
	t.Helper()
	select {
	case l, ok := <-h.transport.Lines():
		if !ok {
			t.Fatalf("lines channel closed: %v", h.transport.Err())
		}
		return l
	case <-time.After(timeout):
		t.Fatal("timed out waiting for classified line")
		return Line{}
	}
}

func TestTransportClassifiesIncomingLines(t *testing.T) {
	h := newPipeHarness(t)
	h.writeLine(t, "OK")
	line := h.readLine(t, time.Second)
	if line.Kind != KindOK {
		t.Fatalf("Kind = %v, want KindOK", line.Kind)
	}
}

func TestTransportSendTextAppendsCRLF(t *testing.T) {
	h := newPipeHarness(t)
	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := h.far.Read(buf)
		done <- string(buf[:n])
	}()
	if err := h.transport.SendText("SKVER"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	select {
	case got := <-done:
		if got != "SKVER\r\n" {
			t.Errorf("wrote %q, want %q", got, "SKVER\r\n")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write")
	}
}

func TestTransportSendFrameNoTrailingCRLF(t *testing.T) {
	h := newPipeHarness(t)
	payload := []byte{0x10, 0x81, 0x00, 0x01, 0x05, 0xFF, 0x01, 0x02, 0x88, 0x01, 0x62, 0x01, 0xE7, 0x00}
	prefix := "SKSENDTO 1 ::1 0E1A 1 000E "
	want := append([]byte(prefix), payload...)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(want))
		io.ReadFull(h.far, buf)
		done <- buf
	}()
	if err := h.transport.SendFrame(prefix, payload); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	select {
	case got := <-done:
		if string(got) != string(want) {
			t.Errorf("wrote %x, want %x", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write")
	}
}

func TestTransportClosesLinesOnPortClose(t *testing.T) {
	h := newPipeHarness(t)
	h.far.Close()
	select {
	case _, ok := <-h.transport.Lines():
		if ok {
			t.Fatal("expected lines channel to be closed after port close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lines channel to close")
	}
}
