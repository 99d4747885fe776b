package miniseed

import "time"

// TickClock places absolute timestamps on a sample stream sampled at a
// rational rate freqN/freqD samples per second, tracking ticks since the
// last SetTime call the way the encoder's state machine does (spec.md
// §4.6.1/§4.6.4).
type TickClock struct {
	start time.Time
	freqN int64
	freqD int64
	ticks int64
}

// NewTickClock builds a clock at the given start time and rational rate.
func NewTickClock(start time.Time, freqN, freqD int64) *TickClock {
	if freqN <= 0 {
		freqN = 1
	}
	if freqD <= 0 {
		freqD = 1
	}
	return &TickClock{start: start, freqN: freqN, freqD: freqD}
}

// SetTime resets the clock to a new absolute start, as the caller is
// expected to do after a real gap (spec.md §4.6.4).
func (t *TickClock) SetTime(start time.Time) {
	t.start = start
	t.ticks = 0
}

// Tick advances the sample counter by one.
func (t *TickClock) Tick() {
	t.ticks++
}

// SamplePeriod is the duration of one sample interval.
func (t *TickClock) SamplePeriod() time.Duration {
	return time.Duration(float64(t.freqD) / float64(t.freqN) * float64(time.Second))
}

// TimeAt returns the absolute time of the sample at the given tick index
// relative to the current start.
func (t *TickClock) TimeAt(sampleIndex int64) time.Time {
	seconds := float64(sampleIndex) * float64(t.freqD) / float64(t.freqN)
	return t.start.Add(time.Duration(seconds * float64(time.Second)))
}

// Now returns the absolute time of the next sample to be ticked.
func (t *TickClock) Now() time.Time {
	return t.TimeAt(t.ticks)
}

// Ticks reports the number of samples ticked since the last SetTime.
func (t *TickClock) Ticks() int64 {
	return t.ticks
}

// IsGap reports whether sampleTime disagrees with the clock's expectation
// by more than half a sample period, the trigger spec.md §4.6.4 names for
// rejecting an input sample outright.
func (t *TickClock) IsGap(sampleTime time.Time) bool {
	expected := t.Now()
	diff := sampleTime.Sub(expected)
	if diff < 0 {
		diff = -diff
	}
	return diff > t.SamplePeriod()/2
}

// FreqND returns the configured rational rate.
func (t *TickClock) FreqND() (int64, int64) {
	return t.freqN, t.freqD
}
