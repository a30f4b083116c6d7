package download

import "time"

type speedSample struct {
	at    time.Time
	bytes int64
}

// SpeedCalculator smooths instantaneous transfer rate over a sliding
// window, ported line-for-line from the original downloader's
// state.rs (a plain slice with front-eviction in place of its
// VecDeque, since 64 samples never warrants a ring buffer).
type SpeedCalculator struct {
	samples    []speedSample
	windowSecs int64
	maxSamples int
	start      *time.Time
}

// NewSpeedCalculator builds a calculator with the given window size.
func NewSpeedCalculator(windowSecs int64) *SpeedCalculator {
	return &SpeedCalculator{windowSecs: windowSecs, maxSamples: 64}
}

// NewDefaultSpeedCalculator builds a calculator with the spec's default
// 5-second window.
func NewDefaultSpeedCalculator() *SpeedCalculator {
	return NewSpeedCalculator(5)
}

// Record appends a new (now, downloadedBytes) sample, evicting samples
// older than the window and beyond the max sample count.
func (c *SpeedCalculator) Record(downloadedBytes int64) {
	c.recordAt(time.Now(), downloadedBytes)
}

func (c *SpeedCalculator) recordAt(now time.Time, downloadedBytes int64) {
	if c.start == nil {
		start := now
		c.start = &start
	}

	cutoff := now.Add(-time.Duration(c.windowSecs) * time.Second)
	i := 0
	for i < len(c.samples) && c.samples[i].at.Before(cutoff) {
		i++
	}
	c.samples = c.samples[i:]

	c.samples = append(c.samples, speedSample{at: now, bytes: downloadedBytes})
	if len(c.samples) > c.maxSamples {
		c.samples = c.samples[len(c.samples)-c.maxSamples:]
	}
}

// SpeedBytesPerSec returns the smoothed speed, or nil if no sample has
// been recorded yet.
func (c *SpeedCalculator) SpeedBytesPerSec() *int64 {
	if len(c.samples) == 0 {
		return nil
	}
	last := c.samples[len(c.samples)-1]

	if len(c.samples) >= 2 {
		first := c.samples[0]
		durationSecs := last.at.Sub(first.at).Seconds()
		if durationSecs < 0.001 {
			durationSecs = 0.001
		}
		bytesDiff := last.bytes - first.bytes
		if bytesDiff < 0 {
			bytesDiff = 0
		}
		speed := int64(float64(bytesDiff) / durationSecs)
		return &speed
	}

	if c.start != nil {
		durationSecs := last.at.Sub(*c.start).Seconds()
		if durationSecs < 0.001 {
			durationSecs = 0.001
		}
		speed := int64(float64(last.bytes) / durationSecs)
		return &speed
	}

	return nil
}

// Reset clears all recorded samples.
func (c *SpeedCalculator) Reset() {
	c.samples = nil
	c.start = nil
}
