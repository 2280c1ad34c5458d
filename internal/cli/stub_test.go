package cli

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStub(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cmd := newStubCmd()
	var logs bytes.Buffer
	cmd.SetErr(&logs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveStub(ctx, ln, cmd, &stubOptions{logFormat: "json"})
	}()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	stdout, _, err := execute(t, "run",
		"--host", url,
		"--users", "2",
		"--spawn-rate", "100",
		"--duration", "200ms",
		"--wait-min", "5ms",
		"--wait-max", "5ms",
		"--max-error-rate", "0",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Completed ✓")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stub did not stop")
	}
	assert.Contains(t, logs.String(), "stub gateway listening")
}

func TestServeStub_BadLogFormat(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	err = serveStub(context.Background(), ln, newStubCmd(), &stubOptions{logFormat: "xml"})
	assert.Error(t, err)
}
