// File: internal/bench/kernel.go
package bench

// CalibrationTarget returns a deterministic xorshift64 workload. It is the
// self-check target for `graft bench` when no probe command is configured:
// cheap enough to run the full protocol in well under a second, stateful
// enough that no step can be optimized away.
func CalibrationTarget(seed uint64) Target {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	state := seed
	return func() uint64 {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		return state
	}
}
