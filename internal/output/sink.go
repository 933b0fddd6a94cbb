package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"gopkg.in/yaml.v3"

	"github.com/kuroha-net/hems-agent/internal/meter"
)

// Sink is one record consumer. Emit must not panic; every failure is
// reported through its error return, never by exception propagation past
// the dispatcher's worker.
type Sink interface {
	Name() string
	Emit(rec meter.Record) error
}

func encodeDoc(rec meter.Record, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(toMap(rec))
	case FormatYAML:
		return yaml.Marshal(toMap(rec))
	default:
		return nil, fmt.Errorf("output: format %s has no single-document encoding", format)
	}
}

// StdoutSink writes one encoded document per Emit call to Writer (normally
// os.Stdout), followed by a newline. For CSV every call writes the header
// row and then the record's row.
type StdoutSink struct {
	Writer io.Writer
	Format Format

	mu sync.Mutex
}

func (s *StdoutSink) Name() string { return "stdout" }

func (s *StdoutSink) Emit(rec meter.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Format == FormatCSV {
		w := csv.NewWriter(s.Writer)
		if err := w.Write(csvColumns); err != nil {
			return fmt.Errorf("stdout sink: csv header: %w", err)
		}
		if err := w.Write(toCSVRow(rec)); err != nil {
			return fmt.Errorf("stdout sink: csv row: %w", err)
		}
		w.Flush()
		return w.Error()
	}

	doc, err := encodeDoc(rec, s.Format)
	if err != nil {
		return fmt.Errorf("stdout sink: %w", err)
	}
	if _, err := fmt.Fprintf(s.Writer, "%s\n", doc); err != nil {
		return fmt.Errorf("stdout sink: write: %w", err)
	}
	return nil
}

// FileSink appends one encoded document per call to a file at Path. For
// CSV it writes the header exactly once, the first time the file is
// empty or does not yet exist.
type FileSink struct {
	Path   string
	Format Format

	mu sync.Mutex
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Emit(rec meter.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	needsHeader := false
	if s.Format == FormatCSV {
		info, err := os.Stat(s.Path)
		needsHeader = err != nil || info.Size() == 0
	}

	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file sink: open %s: %w", s.Path, err)
	}
	defer f.Close()

	if s.Format == FormatCSV {
		w := csv.NewWriter(f)
		if needsHeader {
			if err := w.Write(csvColumns); err != nil {
				return fmt.Errorf("file sink: csv header: %w", err)
			}
		}
		if err := w.Write(toCSVRow(rec)); err != nil {
			return fmt.Errorf("file sink: csv row: %w", err)
		}
		w.Flush()
		return w.Error()
	}

	doc, err := encodeDoc(rec, s.Format)
	if err != nil {
		return fmt.Errorf("file sink: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s\n", doc); err != nil {
		return fmt.Errorf("file sink: write: %w", err)
	}
	return nil
}

// WebhookSink POSTs every record as a JSON body, per spec forcing JSON
// regardless of the configured format.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Emit(rec meter.Record) error {
	body, err := json.Marshal(toMap(rec))
	if err != nil {
		return fmt.Errorf("webhook sink: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook sink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook sink: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink: unexpected status %s", resp.Status)
	}
	return nil
}

// GCloudSink publishes every record as a JSON message to a Pub/Sub topic,
// per spec forcing JSON regardless of the configured format.
type GCloudSink struct {
	Topic *pubsub.Topic
}

func (s *GCloudSink) Name() string { return "gcloud" }

func (s *GCloudSink) Emit(rec meter.Record) error {
	data, err := json.Marshal(toMap(rec))
	if err != nil {
		return fmt.Errorf("gcloud sink: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result := s.Topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("gcloud sink: publish: %w", err)
	}
	return nil
}
