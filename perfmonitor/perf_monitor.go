// Package perfmonitor measures wall-clock durations between a Start and a Stop.
package perfmonitor

import "time"

// PerformanceMonitor records a start and an end instant. It is not safe for
// concurrent use; the server keeps one per exchange.
type PerformanceMonitor struct {
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no recorded times.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start instant, overwriting any previous one.
func (p *PerformanceMonitor) Start() {
	p.startTime = time.Now()
}

// Stop records the end instant. It does nothing if Start has not been called
// since the last Reset.
func (p *PerformanceMonitor) Stop() {
	if p.startTime.IsZero() {
		return
	}

	p.endTime = time.Now()
}

// Reset clears both instants.
func (p *PerformanceMonitor) Reset() {
	p.startTime = time.Time{}
	p.endTime = time.Time{}
}

// Elapsed returns the time between Start and Stop, or zero if either is unset.
func (p *PerformanceMonitor) Elapsed() time.Duration {
	if p.startTime.IsZero() || p.endTime.IsZero() {
		return 0
	}

	return p.endTime.Sub(p.startTime)
}

// ElapsedMilliseconds returns Elapsed in fractional milliseconds.
func (p *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(p.Elapsed()) / float64(time.Millisecond)
}
