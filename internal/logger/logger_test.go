package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("hello", "key", "value")

	out := buf.String()
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, `"key":"value"`) {
		t.Fatalf("expected key=value in JSON output, got: %s", out)
	}
	if !strings.Contains(out, `"level":"INFO"`) {
		t.Fatalf("expected level INFO in output, got: %s", out)
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn level, got: %s", buf.String())
	}
	log.Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("expected warn message, got: %s", buf.String())
	}
}

func TestWith(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("component", "lower")
	log.Info("child message")

	out := buf.String()
	if !strings.Contains(out, `"component":"lower"`) {
		t.Fatalf("expected component attr, got: %s", out)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()
	log := Nop()
	log.Error("discarded", "err", "nothing")
	log.With("k", "v").WithGroup("g").Warn("also discarded")
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)

	ctx := WithContext(context.Background(), log)
	FromContext(ctx).Info("roundtrip")
	if !strings.Contains(buf.String(), "roundtrip") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
}

func TestFromContextDefault(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext with no logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}

func TestPrettyOutput(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo)
	log.Info("lowering graph", "graph", "conv_block", "nodes", 3)

	out := buf.String()
	if !strings.Contains(out, "lowering graph") {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "graph=conv_block") {
		t.Fatalf("expected attr, got: %s", out)
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error enabled at warn level")
	}
}

func TestPrettyHandlerGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil).WithGroup("a").(*PrettyHandler).WithGroup("b")
	slog.New(h).Info("nested", "key", "val")

	if !strings.Contains(buf.String(), "a.b.key=val") {
		t.Fatalf("expected nested group prefix, got: %s", buf.String())
	}
}

func TestPrettyQuoting(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Info("test", "msg", "hello world", "key", "simple")

	out := buf.String()
	if !strings.Contains(out, `msg="hello world"`) {
		t.Fatalf("expected quoted string with spaces, got: %s", out)
	}
	if !strings.Contains(out, "key=simple") || strings.Contains(out, `key="simple"`) {
		t.Fatalf("simple strings should not be quoted, got: %s", out)
	}
}
