package otel

import "testing"

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =skip,tenant=ops")
	if len(headers) != 2 || headers["api-key"] != "abc" || headers["tenant"] != "ops" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_SDK_DISABLED", "true")
	cfg := ConfigFromEnv("custodyd", "dev")
	if cfg.Endpoint != "collector:4318" || cfg.Insecure {
		t.Fatalf("unexpected exporter config %+v", cfg)
	}
	if cfg.Metrics || cfg.Traces {
		t.Fatalf("disabled sdk should turn off exporters")
	}
}
