// Package metrics records LLM request latency, token usage and cost.
package metrics

import "time"

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, agent string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _ string, _, _ int, _ float64, _ bool, _ string, _ time.Duration) {
}

// IncThrottle does nothing in the no-op recorder.
func (n *NoopRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// multiRecorder fans out to several recorders.
type multiRecorder []Recorder

// Multi returns a Recorder that forwards to every non-nil recorder.
func Multi(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiRecorder) ObserveRequest(model, agent string, promptTokens, completionTokens int, cost float64, success bool, errorType string, duration time.Duration) {
	for _, r := range m {
		r.ObserveRequest(model, agent, promptTokens, completionTokens, cost, success, errorType, duration)
	}
}

func (m multiRecorder) IncThrottle(model, reason string) {
	for _, r := range m {
		r.IncThrottle(model, reason)
	}
}

func (m multiRecorder) ObserveQueueWait(model string, duration time.Duration) {
	for _, r := range m {
		r.ObserveQueueWait(model, duration)
	}
}
