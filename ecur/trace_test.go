package ecur

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	assert "github.com/stretchr/testify/require"
)

func TestNoOpTraceNeverPanics(t *testing.T) {
	config := &SessionConfig{address: "10.10.10.10:4096"}
	assert.NotPanics(t, func() {
		NoOpTrace.ConnectStart(config)
		NoOpTrace.ConnectDone(config, nil, time.Millisecond)
		NoOpTrace.Error("test", config, ErrIO)
		NoOpTrace.TransferDone(config, nil, nil, nil, time.Millisecond)
		NoOpTrace.BatchDone(config, 0, nil)
	})
}

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)
	fn()
	return buf.String()
}

func TestDefaultTraceErrorLogsTargetAndErr(t *testing.T) {
	config := &SessionConfig{address: "10.10.10.10:4096"}
	out := captureLog(t, func() {
		DefaultTrace.Error("Open", config, ErrIO)
	})
	assert.Contains(t, out, "10.10.10.10:4096")
	assert.Contains(t, out, "transport failure")
}

func TestDiagnosticTraceTransferDoneLogsHexDumps(t *testing.T) {
	config := &SessionConfig{address: "10.10.10.10:4096"}
	out := captureLog(t, func() {
		DiagnosticTrace.TransferDone(config, []byte{0xde, 0xad}, []byte{0xbe, 0xef}, nil, time.Millisecond)
	})
	assert.True(t, strings.Contains(out, "dead") && strings.Contains(out, "beef"))
}

func TestDiagnosticTraceDefinesEveryHook(t *testing.T) {
	assert.NotNil(t, DiagnosticTrace.ConnectStart)
	assert.NotNil(t, DiagnosticTrace.ConnectDone)
	assert.NotNil(t, DiagnosticTrace.Error)
	assert.NotNil(t, DiagnosticTrace.TransferDone)
	assert.NotNil(t, DiagnosticTrace.BatchDone)
}
