// Package config assembles the configuration surface enumerated in the
// external-interfaces section: environment-derived defaults (loaded via
// godotenv the way the original Python collector's config.py loads a
// .env file before falling back to built-in defaults), then overridden by
// CLI flags. Unsupported combinations are rejected once, at load time,
// rather than discovered mid-run.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Sink names recognised in the Sinks set.
const (
	SinkStdout  = "stdout"
	SinkFile    = "file"
	SinkGCloud  = "gcloud"
	SinkWebhook = "webhook"
)

// Config is the fully resolved configuration for one run: environment
// defaults with CLI overrides already applied.
type Config struct {
	SerialPort string
	SerialRate int

	RouteBID       string
	RouteBPassword string

	GCPProjectID string
	GCPTopicName string

	WebhookURL string

	LocalTimezone string

	// Scheduler: exactly one of ScheduleCron or IntervalSeconds is used,
	// selected by Mode ("schedule" or "interval").
	Mode            string
	ScheduleCron    string
	IntervalSeconds int

	Sinks      []string
	Format     string
	OutputFile string

	// Pre-configured endpoint; when all three are set, discovery is
	// bypassed entirely.
	MeterChannel string
	MeterPanID   string
	MeterIPv6    string

	Debug bool
}

// Default environment-derived values, per the external-interfaces spec.
const (
	DefaultSerialPort = "/dev/ttyUSB0"
	DefaultSerialRate = 115200
	DefaultFormat     = "json"
	DefaultTimezone   = "Asia/Tokyo"
)

// LoadEnv loads a .env file if present (a missing file is not an error —
// the original collector's config.py tolerates its absence the same way)
// and returns a Config populated from environment variables, falling back
// to the documented defaults. CLI flags are applied over the result by
// the caller before Validate.
func LoadEnv() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "config: .env: %v\n", err)
	}

	cfg := Config{
		SerialPort:      getenv("SERIAL_PORT", DefaultSerialPort),
		SerialRate:      getenvInt("SERIAL_RATE", DefaultSerialRate),
		RouteBID:        os.Getenv("B_ROUTE_ID"),
		RouteBPassword:  os.Getenv("B_ROUTE_PASSWORD"),
		GCPProjectID:    os.Getenv("GCP_PROJECT_ID"),
		GCPTopicName:    os.Getenv("GCP_TOPIC_NAME"),
		WebhookURL:      os.Getenv("WEBHOOK_URL"),
		LocalTimezone:   getenv("LOCAL_TIMEZONE", DefaultTimezone),
		Mode:            "interval",
		IntervalSeconds: 60,
		Sinks:           []string{SinkStdout},
		Format:          DefaultFormat,
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Validate rejects unsupported combinations at load time: a file sink
// with no path, a gcloud sink with no project/topic, a webhook sink with
// no URL, missing B-route credentials, and an unrecognised sink or
// format name.
func (c Config) Validate() error {
	if c.RouteBID == "" || c.RouteBPassword == "" {
		return fmt.Errorf("config: B_ROUTE_ID and B_ROUTE_PASSWORD are required")
	}
	if len(c.Sinks) == 0 {
		return fmt.Errorf("config: at least one output sink is required")
	}
	seen := make(map[string]bool, len(c.Sinks))
	for _, s := range c.Sinks {
		switch s {
		case SinkStdout:
		case SinkFile:
			if c.OutputFile == "" {
				return fmt.Errorf("config: file sink requires an output file path")
			}
		case SinkGCloud:
			if c.GCPProjectID == "" || c.GCPTopicName == "" {
				return fmt.Errorf("config: gcloud sink requires GCP_PROJECT_ID and GCP_TOPIC_NAME")
			}
		case SinkWebhook:
			if c.WebhookURL == "" {
				return fmt.Errorf("config: webhook sink requires WEBHOOK_URL")
			}
		default:
			return fmt.Errorf("config: unknown sink %q", s)
		}
		seen[s] = true
	}
	switch c.Format {
	case "json", "yaml", "csv":
	default:
		return fmt.Errorf("config: unknown format %q", c.Format)
	}
	switch c.Mode {
	case "interval":
		if c.IntervalSeconds <= 0 {
			return fmt.Errorf("config: interval mode requires a positive interval")
		}
	case "schedule":
		if c.ScheduleCron == "" {
			return fmt.Errorf("config: schedule mode requires a cron expression")
		}
	default:
		return fmt.Errorf("config: unknown mode %q (want \"interval\" or \"schedule\")", c.Mode)
	}
	return nil
}

// HasPreconfiguredEndpoint reports whether channel, PAN id and IPv6 are
// all supplied, letting the session manager bypass SKSCAN/SKLL64
// discovery entirely.
func (c Config) HasPreconfiguredEndpoint() bool {
	return c.MeterChannel != "" && c.MeterPanID != "" && c.MeterIPv6 != ""
}
