package repository

// ScalePolicy raises a collection's throughput for large batches. Thresholds are exclusive:
// a batch of more than Tier2Threshold items gets Tier2Throughput, more than Tier1Threshold gets Tier1Throughput.
type ScalePolicy struct {
	// Baseline is restored after a scaled batch when the pre-batch throughput cannot be read.
	Baseline        int
	Tier1Threshold  int
	Tier1Throughput int
	Tier2Threshold  int
	Tier2Throughput int
	// Disabled turns scaling off.
	Disabled bool
}

// DefaultScalePolicy returns the policy used when Options.Scale is zero.
func DefaultScalePolicy() ScalePolicy {
	return ScalePolicy{
		Baseline:        400,
		Tier1Threshold:  1000,
		Tier1Throughput: 5000,
		Tier2Threshold:  2000,
		Tier2Throughput: 10000,
	}
}

// Target returns the throughput to provision for a batch of n items, or 0 when no scaling applies.
func (p ScalePolicy) Target(n int) int {
	if p.Disabled {
		return 0
	}
	switch {
	case p.Tier2Throughput > 0 && n > p.Tier2Threshold:
		return p.Tier2Throughput
	case p.Tier1Throughput > 0 && n > p.Tier1Threshold:
		return p.Tier1Throughput
	}
	return 0
}
