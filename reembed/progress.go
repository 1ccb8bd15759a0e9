package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress reports how far a reembed run has come. It is safe for use by
// concurrent batch workers.
type Progress struct {
	mu           sync.Mutex
	w            io.Writer
	total        int
	done         int
	every        int
	lastReported int
	start        time.Time
	now          func() time.Time
}

// NewProgress starts a progress report for total documents, printed to w
// every time at least every more documents have completed.
func NewProgress(w io.Writer, total, every int) *Progress {
	return newProgress(w, total, every, time.Now)
}

func newProgress(w io.Writer, total, every int, now func() time.Time) *Progress {
	if every < 1 {
		every = 1
	}
	return &Progress{
		w:     w,
		total: total,
		every: every,
		start: now(),
		now:   now,
	}
}

// Add records n completed documents. The count never exceeds the total.
func (p *Progress) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = min(p.done+n, p.total)
	if p.done-p.lastReported >= p.every {
		p.report()
		p.lastReported = p.done
	}
}

// Done prints the final line and returns the elapsed time.
func (p *Progress) Done() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = p.total
	p.report()
	fmt.Fprintln(p.w)
	return p.now().Sub(p.start)
}

// Completed returns the number of documents recorded so far.
func (p *Progress) Completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// report must be called with p.mu held.
func (p *Progress) report() {
	elapsed := p.now().Sub(p.start)

	percent := 100.0
	if p.total > 0 {
		percent = float64(p.done) / float64(p.total) * 100
	}
	var rate float64
	if elapsed > 0 {
		rate = float64(p.done) / elapsed.Seconds()
	}

	fmt.Fprintf(p.w, "\rReembedded %d/%d (%.1f%%) %.1f docs/s", p.done, p.total, percent, rate)
	if rate > 0 && p.done < p.total {
		eta := time.Duration(float64(p.total-p.done) / rate * float64(time.Second))
		fmt.Fprintf(p.w, ", eta %s", eta.Round(time.Second))
	}
}
