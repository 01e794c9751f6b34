package alert

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogEmitterCriticalUsesErrorLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := NewLogEmitter(logger)

	e.Emit(Critical("stop_loss_placement_failure", "L1 stop order rejected", map[string]any{
		"position_id": "p-1",
	}))

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") {
		t.Errorf("expected ERROR level, got: %s", out)
	}
	if !strings.Contains(out, "stop_loss_placement_failure") {
		t.Errorf("expected category in output, got: %s", out)
	}
}

func TestLogEmitterWarningUsesWarnLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := NewLogEmitter(logger)

	e.Emit(Warning("exposure_warn", "exposure above 70% threshold", nil))

	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("expected WARN level, got: %s", buf.String())
	}
}
