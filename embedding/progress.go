package embedding

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/imgmatch/core"
)

// ProgressTracker prints a single updating line while a batch of files is
// resolved, broken down by how each file was served.
type ProgressTracker struct {
	mu     sync.Mutex
	writer io.Writer
	label  string
	total  int
	every  int

	cached, computed, shared, failed int

	lastReported int
	startTime    time.Time
	started      bool
}

// NewProgressTracker returns a tracker for total items that prints every
// `every` items, with label in front of the line.
func NewProgressTracker(writer io.Writer, label string, total, every int) *ProgressTracker {
	if every < 1 {
		every = 1
	}
	return &ProgressTracker{
		writer: writer,
		label:  label,
		total:  total,
		every:  every,
	}
}

// Start resets the counters and the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.cached, p.computed, p.shared, p.failed = 0, 0, 0, 0
	p.lastReported = 0
}

// Record counts n items served from source.
func (p *ProgressTracker) Record(source core.Source, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}

	switch source {
	case core.SourceCache:
		p.cached += n
	case core.SourceShared:
		p.shared += n
	default:
		p.computed += n
	}
	p.maybeReport()
}

// Fail counts n items that could not be resolved.
func (p *ProgressTracker) Fail(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}

	p.failed += n
	p.maybeReport()
}

// Done returns how many items have been recorded, capped at the total.
func (p *ProgressTracker) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done()
}

// Finish prints the final line and ends it with a newline.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}

	fmt.Fprint(p.writer, p.line())
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

func (p *ProgressTracker) done() int {
	return min(p.cached+p.computed+p.shared+p.failed, p.total)
}

// maybeReport prints when at least every items arrived since the last line.
// Callers hold mu.
func (p *ProgressTracker) maybeReport() {
	done := p.done()
	if done-p.lastReported < p.every && done < p.total {
		return
	}
	if done == p.lastReported {
		return
	}
	fmt.Fprint(p.writer, p.line())
	p.lastReported = done
}

func (p *ProgressTracker) line() string {
	done := p.done()
	percent := 0.0
	if p.total > 0 {
		percent = float64(done) / float64(p.total) * 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\r%s: %d/%d (%.1f%%)", p.label, done, p.total, percent)

	var parts []string
	for _, c := range []struct {
		name string
		n    int
	}{{"cached", p.cached}, {"computed", p.computed}, {"shared", p.shared}, {"failed", p.failed}} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.name))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, ", "))
	}

	if elapsed := time.Since(p.startTime).Seconds(); elapsed > 0 && done > 0 {
		rate := float64(done) / elapsed
		fmt.Fprintf(&b, " %.1f/s", rate)
		if remaining := p.total - done; remaining > 0 {
			eta := time.Duration(float64(remaining) / rate * float64(time.Second))
			fmt.Fprintf(&b, " eta %s", eta.Round(time.Second))
		}
	}
	return b.String()
}
