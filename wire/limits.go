package wire

// DefaultMaxFrame is the default maximum encoded record size (1 MB).
const DefaultMaxFrame int = 1_048_576

// MaxFrameHardLimit caps record size regardless of negotiated limits (16 MB).
const MaxFrameHardLimit int = 16_777_216

// DefaultMaxBatch is the default number of commands flushed per poll round trip.
const DefaultMaxBatch int = 256

// Limits bounds what a transport will send or accept
type Limits struct {
	MaxFrame int `yaml:"max_frame" cbor:"max_frame"`
	MaxBatch int `yaml:"max_batch" cbor:"max_batch"`
}

// DefaultLimits returns the default transport limits
func DefaultLimits() Limits {
	return Limits{
		MaxFrame: DefaultMaxFrame,
		MaxBatch: DefaultMaxBatch,
	}
}
