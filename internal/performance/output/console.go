// Package output renders run progress and results to the console.
package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/quizload/internal/performance/engine"
	"github.com/wesleyorama2/quizload/internal/performance/metrics"
)

// Cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

// Box drawing and progress bar characters
const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64       // 0.0 to 1.0, 0 when the run has no fixed duration
	Elapsed   time.Duration // Time elapsed since run start
	Remaining time.Duration // Estimated time remaining

	ActiveUsers int
	TargetUsers int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
}

// palette holds the colors used by the console output.
type palette struct {
	Title   *color.Color
	Rule    *color.Color
	Value   *color.Color
	Dim     *color.Color
	Phase   *color.Color
	Latency *color.Color
	Success *color.Color
	Warn    *color.Color
	Error   *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Value:   color.New(color.FgCyan),
		Dim:     color.New(color.Faint),
		Phase:   color.New(color.FgMagenta),
		Latency: color.New(color.FgBlue),
		Success: color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Error:   color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.Title, p.Rule, p.Value, p.Dim, p.Phase, p.Latency, p.Success, p.Warn, p.Error} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// rate picks green, yellow or red for an error rate.
func (p *palette) rate(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return p.Error
	case errorRate > 0.01:
		return p.Warn
	default:
		return p.Success
	}
}

// ConsoleOutput manages console output during a run.
type ConsoleOutput struct {
	testName       string
	runID          string
	host           string
	totalDuration  time.Duration
	updateInterval time.Duration
	writer         io.Writer
	isTTY          bool
	useColors      bool
	quiet          bool
	colors         *palette

	mu          sync.Mutex
	linesOutput int // lines currently occupied by the live display
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName       string
	RunID          string
	Host           string
	TotalDuration  time.Duration
	UpdateInterval time.Duration
	Writer         io.Writer
	Quiet          bool
	ForceColors    bool
	NoColors       bool
	ForceTTY       bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.UpdateInterval == 0 {
		config.UpdateInterval = time.Second
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColors && (config.ForceColors || (isTTY && supportsColors()))

	return &ConsoleOutput{
		testName:       config.TestName,
		runID:          config.RunID,
		host:           config.Host,
		totalDuration:  config.TotalDuration,
		updateInterval: config.UpdateInterval,
		writer:         config.Writer,
		isTTY:          isTTY,
		useColors:      useColors,
		quiet:          config.Quiet,
		colors:         newPalette(useColors),
	}
}

// isTerminal checks if the writer is a terminal.
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok && (f == os.Stdout || f == os.Stderr) {
		return checkIsTerminal(f)
	}
	return false
}

// supportsColors checks if the terminal supports colors.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if runtime.GOOS == "windows" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// UpdateInterval returns how often the caller should refresh the display.
func (c *ConsoleOutput) UpdateInterval() time.Duration {
	return c.updateInterval
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader(users int, spawnRate float64) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	duration := "until interrupted"
	if c.totalDuration > 0 {
		duration = formatDuration(c.totalDuration)
	}

	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s - Running", c.testName))
	c.writeln(c.colors.Rule.Sprint(line))
	if c.runID != "" {
		c.writeln(fmt.Sprintf("Run ID:   %s", c.colors.Dim.Sprint(c.runID)))
	}
	c.writeln(fmt.Sprintf("Host:     %s", c.colors.Value.Sprint(c.host)))
	c.writeln(fmt.Sprintf("Users:    %s at %s users/s", c.colors.Value.Sprint(users), c.colors.Value.Sprintf("%g", spawnRate)))
	c.writeln(fmt.Sprintf("Duration: %s", c.colors.Value.Sprint(duration)))
	c.writeln("")
}

// Update redraws the live display. It does nothing when the output is not a
// terminal; use PrintNonInteractiveUpdate there.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// renderLiveStats renders the live statistics display.
func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	if c.totalDuration > 0 {
		lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
			c.colors.Success.Sprint(renderProgressBar(stats.Progress, 40)),
			c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
			c.colors.Dim.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))))
	} else {
		lines = append(lines, fmt.Sprintf("Elapsed:  %s", c.colors.Dim.Sprint(formatDuration(stats.Elapsed))))
	}
	lines = append(lines, fmt.Sprintf("Phase:    %s", c.colors.Phase.Sprint(stats.CurrentPhase)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	usersStr := fmt.Sprintf("Users:   %s / %d", c.colors.Value.Sprint(stats.ActiveUsers), stats.TargetUsers)
	reqsStr := fmt.Sprintf("Requests:    %s", c.colors.Value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(usersStr, reqsStr, boxWidth))

	errColor := c.colors.rate(stats.ErrorRate)
	rpsStr := fmt.Sprintf("RPS:     %s", c.colors.Success.Sprintf("%.1f", stats.CurrentRPS))
	errStr := fmt.Sprintf("Failures:    %s (%s)",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rpsStr, errStr, boxWidth))

	p95Str := fmt.Sprintf("P95:     %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avgStr := fmt.Sprintf("Avg:         %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95Str, avgStr, boxWidth))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2

	border := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s %s %s %s",
		border, padVisible(left, colWidth),
		border, padVisible(right, colWidth),
		border)
}

// PrintNonInteractiveUpdate prints a one-line status update.
// Used when output is not a TTY (piped to a file or CI).
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	progress := "-"
	if c.totalDuration > 0 {
		progress = fmt.Sprintf("%.0f%%", stats.Progress*100)
	}

	c.writeln(fmt.Sprintf("[%s] Progress: %s | Users: %d | Reqs: %d | RPS: %.1f | Failures: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		progress,
		stats.ActiveUsers,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final report: totals, the per-action table, the
// failure tally and the threshold results.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := c.colors.Success.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Error.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", c.colors.Dim.Sprint(result.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Users:         %s", c.colors.Value.Sprintf("%d / %d", result.SpawnedUsers, result.Users)))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.Value.Sprint(formatNumber(result.Iterations))))
	if result.Metrics != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(result.Metrics.TotalRequests))))
		successRate := 1.0 - result.Metrics.ErrorRate
		c.writeln(fmt.Sprintf("Success Rate:  %s",
			c.colors.rate(result.Metrics.ErrorRate).Sprintf("%.1f%%", successRate*100)))
	}
	c.writeln("")

	if len(result.Requests) > 0 {
		c.writeRequestTable(result)
		c.writeln("")
	}

	if len(result.Failures) > 0 {
		c.writeFailureTable(result.Failures)
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.Title.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := c.colors.Success.Sprint("✓")
			if !t.Passed {
				mark = c.colors.Error.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Threshold, t.Value))
		}
		c.writeln("")
	}

	if result.Error != "" {
		c.writeln(fmt.Sprintf("%s %s", c.colors.Error.Sprint("Error:"), result.Error))
		c.writeln("")
	}
}

const requestRowFormat = "%-16s %9s %8s %8s %8s %8s %8s %8s %8s"

// writeRequestTable prints one row per action label and an aggregated row.
func (c *ConsoleOutput) writeRequestTable(result *engine.TestResult) {
	c.writeln(c.colors.Title.Sprint("Requests:"))
	c.writeln(c.colors.Dim.Sprintf(requestRowFormat,
		"Name", "# reqs", "# fails", "Avg", "P50", "P95", "P99", "Max", "RPS"))

	for _, rs := range result.Requests {
		c.writeln(c.requestRow(rs.Name, rs.Requests, rs.Failures, rs.RPS, rs.Latency))
	}

	if result.Metrics != nil {
		c.writeln(c.colors.Dim.Sprint(strings.Repeat("-", 90)))
		m := result.Metrics
		c.writeln(c.requestRow("Aggregated", m.TotalRequests, m.FailedRequests, m.RPS, m.Latency))
	}
}

func (c *ConsoleOutput) requestRow(name string, requests, failures int64, rps float64, l metrics.LatencyStats) string {
	row := fmt.Sprintf(requestRowFormat,
		name,
		formatNumber(requests),
		formatNumber(failures),
		formatDurationShort(l.Mean),
		formatDurationShort(l.P50),
		formatDurationShort(l.P95),
		formatDurationShort(l.P99),
		formatDurationShort(l.Max),
		fmt.Sprintf("%.1f", rps))
	if failures > 0 {
		return c.colors.Warn.Sprint(row)
	}
	return row
}

// writeFailureTable prints the failure tally, most frequent first.
func (c *ConsoleOutput) writeFailureTable(failures []metrics.FailureStat) {
	c.writeln(c.colors.Title.Sprint("Failures:"))
	c.writeln(c.colors.Dim.Sprintf("%13s  %-16s %s", "# occurrences", "Name", "Reason"))
	for _, f := range failures {
		count := fmt.Sprintf("%13s", formatNumber(f.Occurrences))
		c.writeln(fmt.Sprintf("%s  %-16s %s", c.colors.Error.Sprint(count), f.Name, f.Reason))
	}
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// padVisible right-pads s to width visible characters, ignoring escape codes.
func padVisible(s string, width int) string {
	pad := width - len([]rune(stripANSI(s)))
	if pad < 0 {
		pad = 0
	}
	return s + strings.Repeat(" ", pad)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}

// StatsFromMetrics creates LiveStats from a metrics snapshot.
func StatsFromMetrics(snapshot *metrics.Snapshot, progress float64, totalDuration time.Duration, targetUsers int) *LiveStats {
	if snapshot == nil {
		return &LiveStats{
			Progress:     progress,
			TargetUsers:  targetUsers,
			CurrentPhase: string(metrics.PhaseInit),
		}
	}

	elapsed := snapshot.Elapsed
	remaining := time.Duration(0)
	if totalDuration > 0 {
		remaining = totalDuration - elapsed
		if remaining < 0 {
			remaining = 0
		}
	}

	return &LiveStats{
		Progress:      progress,
		Elapsed:       elapsed,
		Remaining:     remaining,
		ActiveUsers:   snapshot.ActiveVUs,
		TargetUsers:   targetUsers,
		CurrentRPS:    snapshot.RPS,
		TotalRequests: snapshot.TotalRequests,
		Errors:        snapshot.FailedRequests,
		ErrorRate:     snapshot.ErrorRate,
		LatencyP95:    snapshot.Latency.P95,
		LatencyAvg:    snapshot.Latency.Mean,
		CurrentPhase:  string(snapshot.CurrentPhase),
	}
}
