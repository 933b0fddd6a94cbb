package config

import "testing"

func validConfig() Config {
	return Config{
		RouteBID:       "0123456789ABCDEF0123456789ABCDEF",
		RouteBPassword: "opaquepassword12",
		Mode:           "interval",
		IntervalSeconds: 60,
		Sinks:           []string{SinkStdout},
		Format:          "json",
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.RouteBID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for missing B-route id")
	}
}

func TestValidateRejectsFileSinkWithoutPath(t *testing.T) {
	cfg := validConfig()
	cfg.Sinks = []string{SinkFile}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a file sink with no path")
	}
}

func TestValidateAcceptsFileSinkWithPath(t *testing.T) {
	cfg := validConfig()
	cfg.Sinks = []string{SinkFile}
	cfg.OutputFile = "/tmp/out.csv"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateRejectsGCloudSinkWithoutTopic(t *testing.T) {
	cfg := validConfig()
	cfg.Sinks = []string{SinkGCloud}
	cfg.GCPProjectID = "my-project"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a gcloud sink with no topic")
	}
}

func TestValidateRejectsWebhookSinkWithoutURL(t *testing.T) {
	cfg := validConfig()
	cfg.Sinks = []string{SinkWebhook}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a webhook sink with no URL")
	}
}

func TestValidateRejectsUnknownFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestValidateRejectsScheduleModeWithoutCron(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "schedule"
	cfg.ScheduleCron = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for schedule mode with no cron expression")
	}
}

func TestHasPreconfiguredEndpoint(t *testing.T) {
	cfg := validConfig()
	if cfg.HasPreconfiguredEndpoint() {
		t.Fatal("expected no preconfigured endpoint by default")
	}
	cfg.MeterChannel, cfg.MeterPanID, cfg.MeterIPv6 = "21", "8888", "2001:db8::1"
	if !cfg.HasPreconfiguredEndpoint() {
		t.Fatal("expected a preconfigured endpoint once all three fields are set")
	}
}
