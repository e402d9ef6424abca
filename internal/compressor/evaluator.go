package compressor

// ShouldStop decides whether the scheduler stops after a pass.
func ShouldStop(targetEnabled bool, observedSize, targetSize int64) bool {
	return !targetEnabled || observedSize <= targetSize
}
