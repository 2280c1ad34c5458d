package metrics

import "time"

// Recorder receives request samples. Engine and PrometheusExporter implement it.
type Recorder interface {
	RecordLatency(duration time.Duration, requestName string, success bool, bytes int64)
	RecordFailure(requestName, reason string)
}

type tee []Recorder

// Tee returns a Recorder that forwards every sample to all non-nil recorders.
func Tee(recorders ...Recorder) Recorder {
	out := make(tee, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (t tee) RecordLatency(duration time.Duration, requestName string, success bool, bytes int64) {
	for _, r := range t {
		r.RecordLatency(duration, requestName, success, bytes)
	}
}

func (t tee) RecordFailure(requestName, reason string) {
	for _, r := range t {
		r.RecordFailure(requestName, reason)
	}
}
