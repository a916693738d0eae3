package ui

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	DisableColor()
	var buf bytes.Buffer
	prev := Output
	Output = &buf
	t.Cleanup(func() { Output = prev })
	return &buf
}

func TestPrintHelpers(t *testing.T) {
	buf := captureOutput(t)

	PrintInfo("Mode", "archive")
	PrintError("Failed to connect", errors.New("401"))
	PrintWarning("No credentials")
	PrintSuccess("Done")

	out := buf.String()
	assert.Contains(t, out, "Mode: archive\n")
	assert.Contains(t, out, "Failed to connect: 401\n")
	assert.Contains(t, out, "No credentials\n")
	assert.Contains(t, out, "Done\n")
	assert.NotContains(t, out, "\x1b[")
}

func TestStatusTracker(t *testing.T) {
	buf := captureOutput(t)

	st := NewStatusTracker()
	st.Record("stream", 7)
	st.Record("archive", 12)
	st.Record("archive", 15)
	st.SetLastID(1580000000000000000)

	assert.Equal(t, int64(22), st.Total())

	st.PrintSummary()
	out := buf.String()
	assert.Contains(t, out, "[COLLECTED] archive: 15\n[COLLECTED] stream: 7\n")
	assert.Contains(t, out, "--last-id 1580000000000000000")
}
