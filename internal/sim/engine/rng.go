package engine

// SeededRand is a xorshift/Weyl generator. It exists instead of math/rand so
// state can be exported and restored byte-exactly for replays; the stdlib
// source hides its state behind an interface.
type SeededRand struct {
	state  uint32
	seeded bool

	// fallbackSeed is set the first time a draw happens before SetSeed, so
	// the host can record it and a replay can reproduce the same stream.
	fallbackSeed uint32
}

const weylIncrement = 0x9e3779b9

// DefaultFallbackSeed is used when a draw is requested before any seed was
// set. The runtime records the fallback through telemetry so the session can
// still be replayed.
const DefaultFallbackSeed = 0x1d872b41

func NewSeededRand() *SeededRand { return &SeededRand{} }

// SetSeed normalizes the seed to an unsigned 32-bit non-zero state. Zero
// would freeze the xorshift mix, so it maps to the Weyl increment.
func (r *SeededRand) SetSeed(seed int64) {
	s := uint32(uint64(seed))
	if s == 0 {
		s = weylIncrement
	}
	r.state = s
	r.seeded = true
	r.fallbackSeed = 0
}

// Next returns the next float64 in [0, 1).
func (r *SeededRand) Next() float64 {
	if !r.seeded {
		r.fallbackSeed = DefaultFallbackSeed
		r.state = DefaultFallbackSeed
		r.seeded = true
	}
	r.state += weylIncrement
	x := r.state
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return float64(x) / 4294967296.0
}

// NextBelow returns an integer in [0, n). n <= 0 returns 0.
func (r *SeededRand) NextBelow(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Next() * float64(n))
}

// State exposes the raw generator state for exact resume.
func (r *SeededRand) State() uint32 { return r.state }

func (r *SeededRand) SetState(state uint32) {
	r.state = state
	r.seeded = true
	r.fallbackSeed = 0
}

func (r *SeededRand) Seeded() bool { return r.seeded }

// FallbackSeed reports the seed that was implicitly applied by a pre-seed
// draw, or 0 if none was.
func (r *SeededRand) FallbackSeed() uint32 { return r.fallbackSeed }
