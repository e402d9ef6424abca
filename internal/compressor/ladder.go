package compressor

// InitialMaxDimension bounds rung 0, which carries the user's quality.
const InitialMaxDimension = 1920

// fallbackRungs are tried in order after rung 0 while a target is unmet.
var fallbackRungs = [...]CompressionConfig{
	{Quality: 0.5, MaxDimension: 1600},
	{Quality: 0.3, MaxDimension: 1280},
	{Quality: 0.1, MaxDimension: 1024},
	{Quality: 0.05, MaxDimension: 800},
}

// BuildLadder returns the rungs for one invocation. Without a custom size
// only rung 0 is needed, since the first pass always stops.
func BuildLadder(userQuality float64, customSize bool) PassLadder {
	ladder := make(PassLadder, 0, len(fallbackRungs)+1)
	ladder = append(ladder, CompressionConfig{Quality: userQuality, MaxDimension: InitialMaxDimension})
	if !customSize {
		return ladder
	}
	return append(ladder, fallbackRungs[:]...)
}
