package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards one event in every N, derived from a rate in
// [0,1]. Audio frame observations arrive every 20ms, far too often to record
// each one; the deterministic stride keeps test assertions exact.
type SamplingObserver struct {
	inner   Observer
	stride  uint64
	counter uint64
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	var stride uint64
	switch {
	case rate <= 0:
		stride = 0
	case rate >= 1:
		stride = 1
	default:
		stride = uint64(math.Round(1.0 / rate))
		if stride == 0 {
			stride = 1
		}
	}
	return &SamplingObserver{inner: inner, stride: stride}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	switch {
	case s.stride == 0:
		return
	case s.stride == 1:
		s.inner.RecordEvent(ev)
	default:
		if atomic.AddUint64(&s.counter, 1)%s.stride == 0 {
			s.inner.RecordEvent(ev)
		}
	}
}
