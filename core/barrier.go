package core

// BarrierConfig configures synchronization behavior for a barrier stage
type BarrierConfig struct {
	// UpstreamCount is the number of DoneEvents to wait for
	UpstreamCount int
}
