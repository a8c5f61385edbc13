package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	dir := t.TempDir()
	logger := Setup("custodyd", "test", Options{
		Level:  slog.LevelDebug,
		Output: &buf,
		File:   &FileConfig{Path: filepath.Join(dir, "custodyd.log"), MaxSizeMB: 1},
	})
	logger.Info("vault initialised", MaskField("api_key", "secret"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["service"] != "custodyd" || line["env"] != "test" {
		t.Fatalf("missing service attributes: %v", line)
	}
	if line["severity"] != "INFO" || line["message"] != "vault initialised" {
		t.Fatalf("unexpected envelope: %v", line)
	}
	if line["api_key"] != RedactedValue {
		t.Fatalf("sensitive field not masked: %v", line["api_key"])
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn || ParseLevel("") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}

func TestMaskFieldAllowlist(t *testing.T) {
	if attr := MaskField("requestId", "abc"); attr.Value.String() != "abc" {
		t.Fatalf("allowlisted key should pass through, got %q", attr.Value.String())
	}
	if attr := MaskField("journal_dsn", "postgres://u:p@db/vv"); attr.Value.String() != RedactedValue {
		t.Fatalf("dsn should be masked, got %q", attr.Value.String())
	}
	if attr := MaskField("journal_dsn", " "); attr.Value.String() != " " {
		t.Fatalf("blank values should be kept as-is")
	}
}

func TestMaskDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://custody:hunter2@db:5432/vestvault?sslmode=disable": "postgres://custody:xxxxx@db:5432/vestvault",
		"file:/var/data/journal.sqlite":                                "file:/var/data/journal.sqlite",
		"host=db password=hunter2":                                     RedactedValue,
		"":                                                             "",
	}
	for dsn, want := range cases {
		if got := MaskDSN("journal_dsn", dsn).Value.String(); got != want {
			t.Fatalf("MaskDSN(%q) = %q, want %q", dsn, got, want)
		}
	}
}
