package recovery

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestRecoverWithLog(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger(&buf)

	func() {
		defer RecoverWithLog(logger, "downlink")
		panic("device gone")
	}()

	out := buf.String()
	if !strings.Contains(out, "panic recovered") {
		t.Errorf("missing recovery entry: %s", out)
	}
	if !strings.Contains(out, "downlink") {
		t.Errorf("missing goroutine name: %s", out)
	}
	if !strings.Contains(out, "device gone") {
		t.Errorf("missing panic value: %s", out)
	}
}

func TestRecoverWithLog_NoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger(&buf)

	func() {
		defer RecoverWithLog(logger, "uplink")
	}()

	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}

func TestRecoverWithCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger(&buf)

	var recovered interface{}
	func() {
		defer RecoverWithCallback(logger, "pump", func(r interface{}) {
			recovered = r
		})
		panic("boom")
	}()

	if recovered != "boom" {
		t.Errorf("callback recovered = %v, want boom", recovered)
	}
}
