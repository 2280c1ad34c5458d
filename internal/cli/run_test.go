package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/quizload/internal/config"
	"github.com/wesleyorama2/quizload/internal/performance/engine"
	"github.com/wesleyorama2/quizload/internal/quiz"
	"github.com/wesleyorama2/quizload/internal/quiz/quiztest"
)

func newQuizServer(t *testing.T, loginStatus int) *httptest.Server {
	t.Helper()
	gw := quiztest.NewGateway()
	if loginStatus != http.StatusOK {
		gw.FailLogins(loginStatus)
	}
	server := httptest.NewServer(gw)
	t.Cleanup(server.Close)
	return server
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCmd_Help(t *testing.T) {
	stdout, _, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, stdout, "run")
	assert.Contains(t, stdout, "version")
}

func TestVersionCmd(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "quizload "+Version())
}

func TestRunCmd_MissingHost(t *testing.T) {
	_, _, err := execute(t, "run", "--duration", "100ms")
	require.Error(t, err)

	var errs *config.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.True(t, errs.Has("host"))
}

func TestRunCmd_BadConfigFile(t *testing.T) {
	_, _, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading config")
}

func TestRunCmd_Summary(t *testing.T) {
	server := newQuizServer(t, http.StatusOK)

	stdout, _, err := execute(t, "run",
		"--host", server.URL,
		"--users", "2",
		"--spawn-rate", "50",
		"--duration", "300ms",
		"--wait-min", "5ms",
		"--wait-max", "10ms",
		"--name", "cli-smoke",
	)
	require.NoError(t, err)

	assert.Contains(t, stdout, "cli-smoke - Running")
	assert.Contains(t, stdout, "Completed ✓")
	assert.Contains(t, stdout, quiz.LabelCreateUser)
	assert.Contains(t, stdout, quiz.LabelLogin)
	assert.Contains(t, stdout, "Aggregated")
}

func TestRunCmd_JSON(t *testing.T) {
	server := newQuizServer(t, http.StatusOK)
	outPath := filepath.Join(t.TempDir(), "result.json")

	stdout, stderr, err := execute(t, "run",
		"--host", server.URL,
		"--users", "1",
		"--duration", "200ms",
		"--wait-min", "5ms",
		"--wait-max", "5ms",
		"--json",
		"--output", outPath,
	)
	require.NoError(t, err)

	var result engine.TestResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result), "stdout must be pure JSON")
	assert.True(t, result.Passed)
	assert.Equal(t, server.URL, result.Host)
	assert.NotEmpty(t, result.RunID)
	assert.Contains(t, stderr, "Completed ✓")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var fromFile engine.TestResult
	require.NoError(t, json.Unmarshal(data, &fromFile))
	assert.Equal(t, result.RunID, fromFile.RunID)
}

func TestRunCmd_ErrorRateThreshold(t *testing.T) {
	server := newQuizServer(t, http.StatusUnauthorized)

	stdout, _, err := execute(t, "run",
		"--host", server.URL,
		"--users", "1",
		"--duration", "150ms",
		"--wait-min", "5ms",
		"--wait-max", "5ms",
		"--max-error-rate", "0.01",
		"--quiet",
	)
	require.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, stdout, "FAILED")
}

func TestRunCmd_MetricsExporter(t *testing.T) {
	server := newQuizServer(t, http.StatusOK)

	_, _, err := execute(t, "run",
		"--host", server.URL,
		"--duration", "100ms",
		"--wait-min", "5ms",
		"--wait-max", "5ms",
		"--metrics-addr", "127.0.0.1:0",
		"--quiet",
	)
	require.NoError(t, err)
}

func TestRunCmd_InvalidLogLevel(t *testing.T) {
	_, _, err := execute(t, "run", "--host", "http://localhost:1", "--log-level", "chatty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error creating logger")
}

func TestBuildConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: http://from-file:3000
users: 20
spawnRate: 2
waitMin: 2s
waitMax: 4s
thresholds:
  maxP95: 1s
`), 0o600))

	opts := &runOptions{}
	cmd := newRunCmdWithOptions(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--users", "5", "--max-error-rate", "0.02"}))

	cfg, err := buildConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, "http://from-file:3000", cfg.Host)
	assert.Equal(t, 5, cfg.Users)
	assert.Equal(t, 2.0, cfg.SpawnRate)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.WaitMin))
	require.NotNil(t, cfg.Thresholds)
	assert.Equal(t, time.Second, time.Duration(cfg.Thresholds.MaxP95))
	require.NotNil(t, cfg.Thresholds.MaxErrorRate)
	assert.Equal(t, 0.02, *cfg.Thresholds.MaxErrorRate)
}

func TestBuildConfig_UnsetFlagsLeaveZero(t *testing.T) {
	opts := &runOptions{}
	cmd := newRunCmdWithOptions(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--host", "http://h"}))

	cfg, err := buildConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, &config.Config{Host: "http://h"}, cfg)
}

func TestBuildConfig_SingleWaitFlag(t *testing.T) {
	tests := []struct {
		args    []string
		wantMin time.Duration
		wantMax time.Duration
	}{
		{[]string{"--wait-max", "500ms"}, 500 * time.Millisecond, 500 * time.Millisecond},
		{[]string{"--wait-max", "10s"}, time.Second, 10 * time.Second},
		{[]string{"--wait-min", "5s"}, 5 * time.Second, 5 * time.Second},
		{[]string{"--wait-min", "0s"}, 0, 3 * time.Second},
	}

	for _, tt := range tests {
		opts := &runOptions{}
		cmd := newRunCmdWithOptions(opts)
		require.NoError(t, cmd.ParseFlags(tt.args))

		cfg, err := buildConfig(cmd, opts)
		require.NoError(t, err)
		assert.Equal(t, tt.wantMin, time.Duration(cfg.WaitMin), "args %v", tt.args)
		assert.Equal(t, tt.wantMax, time.Duration(cfg.WaitMax), "args %v", tt.args)
	}
}

type fakeStopper struct {
	running bool
	stops   atomic.Int32
}

func (f *fakeStopper) IsRunning() bool { return f.running }

func (f *fakeStopper) Stop(context.Context) error {
	f.stops.Add(1)
	return nil
}

func TestWatchSignals_FirstStopsSecondAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	stopper := &fakeStopper{running: true}
	done := make(chan struct{})
	go func() {
		watchSignals(ctx, sigCh, stopper, cancel, zap.NewNop())
		close(done)
	}()

	sigCh <- os.Interrupt
	require.Eventually(t, func() bool { return stopper.stops.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, ctx.Err())

	sigCh <- os.Interrupt
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second signal did not end the watcher")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, int32(1), stopper.stops.Load())
}

func TestWatchSignals_BeforeRunCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	stopper := &fakeStopper{}
	sigCh <- os.Interrupt
	watchSignals(ctx, sigCh, stopper, cancel, zap.NewNop())

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Zero(t, stopper.stops.Load())
}

func TestWatchSignals_StopsEngine(t *testing.T) {
	server := newQuizServer(t, http.StatusOK)

	cfg := &config.Config{
		Host:      server.URL,
		Users:     2,
		SpawnRate: 100,
		WaitMin:   config.Duration(5 * time.Millisecond),
		WaitMax:   config.Duration(10 * time.Millisecond),
	}
	eng, err := engine.NewEngine(cfg, engine.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type runOutcome struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- runOutcome{result, err}
	}()

	sigCh := make(chan os.Signal, 1)
	go watchSignals(ctx, sigCh, eng, cancel, zap.NewNop())

	require.Eventually(t, func() bool {
		stats := eng.GetStats()
		return stats != nil && stats.ActiveVUs == 2
	}, 2*time.Second, 5*time.Millisecond)
	sigCh <- os.Interrupt

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, 2, out.result.SpawnedUsers)
		assert.Positive(t, out.result.Metrics.TotalRequests)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after an interrupt")
	}
	assert.NoError(t, ctx.Err(), "a single interrupt must not cancel the run context")
}
