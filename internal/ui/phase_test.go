package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseDisplayRenderProgress(t *testing.T) {
	var buf bytes.Buffer
	pd := NewPhaseDisplay(&buf)

	pd.RenderProgress("Connecting")

	output := buf.String()
	assert.Contains(t, output, "Connecting")
	assert.Contains(t, output, "...")
}

func TestPhaseDisplayRenderSuccess(t *testing.T) {
	var buf bytes.Buffer
	pd := NewPhaseDisplay(&buf)

	pd.RenderSuccess("deploy@10.0.0.5:22", 300*time.Millisecond)

	output := buf.String()
	assert.Contains(t, output, SymbolComplete)
	assert.Contains(t, output, "deploy@10.0.0.5:22")
	assert.Contains(t, output, "0.3s")
	assert.NotContains(t, output, "\r", "nothing to clear without a progress line")
}

func TestPhaseDisplayClearsProgress(t *testing.T) {
	var buf bytes.Buffer
	pd := NewPhaseDisplay(&buf)

	pd.RenderProgress("Connecting")
	pd.RenderSuccess("Connected", time.Second)
	before := strings.Count(buf.String(), "\r")
	pd.RenderSuccess("Again", time.Second)

	assert.Equal(t, before, strings.Count(buf.String(), "\r"), "only a pending progress line is cleared")
}

func TestPhaseDisplayRenderFailed(t *testing.T) {
	var buf bytes.Buffer
	pd := NewPhaseDisplay(&buf)

	pd.RenderFailed("gateway", 2300*time.Millisecond, errors.New("connection refused"))

	output := buf.String()
	assert.Contains(t, output, SymbolFail)
	assert.Contains(t, output, "gateway")
	assert.Contains(t, output, "2.3s")
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if assert.Len(t, lines, 2) {
		assert.True(t, strings.HasPrefix(lines[1], "  "))
		assert.Contains(t, lines[1], "connection refused")
	}
}

func TestPhaseDisplayRenderSkipped(t *testing.T) {
	var buf bytes.Buffer
	pd := NewPhaseDisplay(&buf)

	pd.RenderSkipped("target", "not reached")

	output := buf.String()
	assert.Contains(t, output, SymbolSkipped)
	assert.Contains(t, output, "target")
	assert.Contains(t, output, "(not reached)")
}

func TestPhaseDisplayRenderSkippedNoReason(t *testing.T) {
	var buf bytes.Buffer
	pd := NewPhaseDisplay(&buf)

	pd.RenderSkipped("target", "")

	output := buf.String()
	assert.Contains(t, output, SymbolSkipped)
	assert.NotContains(t, output, "(")
}

func TestPhaseDisplayRenderSubStatus(t *testing.T) {
	var buf bytes.Buffer
	pd := NewPhaseDisplay(&buf)

	pd.RenderSubStatus(SymbolPending, "gateway", "timeout (2s)")

	output := buf.String()
	assert.Contains(t, output, SymbolPending)
	assert.Contains(t, output, "gateway")
	assert.Contains(t, output, "timeout (2s)")
	assert.True(t, strings.HasPrefix(output, "  "))
}

func TestPhaseDisplayDivider(t *testing.T) {
	var buf bytes.Buffer
	NewPhaseDisplay(&buf).Divider()

	assert.GreaterOrEqual(t, strings.Count(buf.String(), "━"), DividerWidth)
}

func TestPhaseDisplayCommandPrompt(t *testing.T) {
	var buf bytes.Buffer
	NewPhaseDisplay(&buf).CommandPrompt("systemctl status nginx")

	output := buf.String()
	assert.Contains(t, output, "$")
	assert.Contains(t, output, "systemctl status nginx")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.05s", FormatDuration(50*time.Millisecond))
	assert.Equal(t, "1.2s", FormatDuration(1200*time.Millisecond))
}

func TestFormatPhase(t *testing.T) {
	assert.Contains(t, FormatPhase(SymbolComplete, ColorSuccess, "Connected", "0.3s"), "0.3s")
	withoutTiming := FormatPhase(SymbolProgress, ColorSecondary, "Connecting", "")
	assert.Contains(t, withoutTiming, SymbolProgress)
	assert.True(t, strings.HasSuffix(withoutTiming, "Connecting"))
}
