package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives per-region progress of a run. Regions are the
// detections whose text is being extracted.
type ProgressCallback interface {
	// OnStart is called once detection finished, with the number of regions.
	OnStart(runID string, regions int)

	// OnProgress is called after each region has been persisted.
	OnProgress(runID string, current, total int)

	// OnComplete is called when the run is complete.
	OnComplete(runID string)

	// OnError is called when the run is aborted.
	OnError(runID string, stage Stage, err error)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(string, int)          {}
func (NoOpProgressCallback) OnProgress(string, int, int)  {}
func (NoOpProgressCallback) OnComplete(string)            {}
func (NoOpProgressCallback) OnError(string, Stage, error) {}

// ConsoleProgressCallback draws a region progress bar on a terminal.
type ConsoleProgressCallback struct {
	writer    io.Writer
	prefix    string
	width     int
	mutex     sync.Mutex
	startTime time.Time
}

// NewConsoleProgressCallback creates a console progress reporter. A nil
// writer selects stderr.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer: writer,
		prefix: prefix,
		width:  30,
	}
}

// WithWidth sets the progress bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	if width > 0 {
		c.width = width
	}
	return c
}

func (c *ConsoleProgressCallback) OnStart(runID string, regions int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.startTime = time.Now()
	_, _ = fmt.Fprintf(c.writer, "%srun %s: %d regions\n", c.prefix, runID, regions)
}

func (c *ConsoleProgressCallback) OnProgress(_ string, current, total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if total <= 0 {
		return
	}
	filled := c.width * current / total
	bar := strings.Repeat("#", filled) + strings.Repeat("-", c.width-filled)
	_, _ = fmt.Fprintf(c.writer, "\r%s[%s] %d/%d", c.prefix, bar, current, total)
	if current == total {
		_, _ = fmt.Fprintln(c.writer)
	}
}

func (c *ConsoleProgressCallback) OnComplete(runID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	elapsed := time.Since(c.startTime)
	_, _ = fmt.Fprintf(c.writer, "%srun %s completed in %v\n", c.prefix, runID, elapsed.Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(runID string, stage Stage, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, _ = fmt.Fprintf(c.writer, "\n%srun %s failed while %s: %v\n", c.prefix, runID, stage, err)
}

// LogProgressCallback logs progress updates using slog.
type LogProgressCallback struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogProgressCallback creates a log-based progress reporter.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level}
}

func (l *LogProgressCallback) OnStart(runID string, regions int) {
	l.logger.Log(context.Background(), l.level, "Extracting text", "run_id", runID, "regions", regions)
}

func (l *LogProgressCallback) OnProgress(runID string, current, total int) {
	l.logger.Log(context.Background(), l.level, "Region persisted", "run_id", runID, "current", current, "total", total)
}

func (l *LogProgressCallback) OnComplete(runID string) {
	l.logger.Log(context.Background(), l.level, "Run complete", "run_id", runID)
}

func (l *LogProgressCallback) OnError(runID string, stage Stage, err error) {
	l.logger.Log(context.Background(), slog.LevelError, "Run aborted", "run_id", runID, "stage", stage, "error", err)
}
