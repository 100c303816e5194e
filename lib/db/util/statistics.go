package util

import (
	"math"

	gometrics "github.com/rcrowley/go-metrics"
)

// ----------------------------------------------------------------------------
// Descriptive statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation, minimum and maximum
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var squares float64
	for _, v := range values {
		squares += (v - mean) * (v - mean)
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(squares / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates how evenly values (e.g. shard sizes) are spread.
// A quality of 1 means all values are equal.
func NewDistributionStats(sizes []float64) DistributionStats {
	stats := NewStats(sizes)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sampleSize is the reservoir size of a SizeHistogram
const sampleSize = 2048

// SizeHistogram tracks the distribution of data sizes in a uniform
// reservoir sample.
//
// Thread-safe: all methods are safe for concurrent use
type SizeHistogram struct {
	h gometrics.Histogram
}

// NewSizeHistogram creates an empty size histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{h: gometrics.NewHistogram(gometrics.NewUniformSample(sampleSize))}
}

// AddSample adds a size sample to the histogram
func (h *SizeHistogram) AddSample(size int) {
	h.h.Update(int64(size))
}

// GetCount returns the total number of samples
func (h *SizeHistogram) GetCount() int64 {
	return h.h.Count()
}

// AverageSize returns the average size across all samples
func (h *SizeHistogram) AverageSize() int {
	return int(h.h.Mean())
}

// MedianEstimate estimates the median size
func (h *SizeHistogram) MedianEstimate() int {
	return h.GetPercentileEstimate(50)
}

// GetPercentileEstimate returns an estimate for the given percentile (0-100)
func (h *SizeHistogram) GetPercentileEstimate(percentile int) int {
	if percentile < 0 || percentile > 100 {
		return 0
	}
	return int(h.h.Percentile(float64(percentile) / 100))
}

// Reset clears all histogram data
func (h *SizeHistogram) Reset() {
	h.h.Clear()
}
