package synth

import (
	"hash/fnv"
	"math/rand/v2"
)

// Source derives independent, reproducible random streams from one seed.
// Every user gets its own stream per purpose, so generation order and
// partitioning never change the output.
type Source struct {
	seed uint64
}

// NewSource returns a Source rooted at seed.
func NewSource(seed uint64) Source {
	return Source{seed: seed}
}

// Seed returns the root seed.
func (s Source) Seed() uint64 {
	return s.seed
}

type streamKind uint64

const (
	populationStream streamKind = iota + 1
	eventStream
)

func (s Source) stream(kind streamKind, key uint64) *rand.Rand {
	return rand.New(rand.NewPCG(s.seed, splitmix64(uint64(kind)<<56^key)))
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func userStreamKey(userID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	return h.Sum64()
}

// uniformInt draws from [lo, hi] inclusive.
func uniformInt(r *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.IntN(hi-lo+1)
}

// Choice is one weighted outcome of a Categorical distribution.
type Choice[T any] struct {
	Value  T       `yaml:"value" json:"value"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Categorical is a finite weighted distribution. Weights need not be
// normalised.
type Categorical[T any] []Choice[T]

// Draw samples one value.
func (c Categorical[T]) Draw(r *rand.Rand) T {
	x := r.Float64() * c.total()
	for _, ch := range c {
		x -= ch.Weight
		if x < 0 {
			return ch.Value
		}
	}
	return c[len(c)-1].Value
}

func (c Categorical[T]) total() float64 {
	var sum float64
	for _, ch := range c {
		sum += ch.Weight
	}
	return sum
}

func (c Categorical[T]) validate(field string) error {
	if len(c) == 0 {
		return configErrorf(field, "distribution is empty")
	}
	for _, ch := range c {
		if ch.Weight < 0 {
			return configErrorf(field, "negative weight %v", ch.Weight)
		}
	}
	if c.total() <= 0 {
		return configErrorf(field, "weights sum to zero")
	}
	return nil
}

// Values lists the outcomes in declaration order.
func (c Categorical[T]) Values() []T {
	out := make([]T, 0, len(c))
	for _, ch := range c {
		out = append(out, ch.Value)
	}
	return out
}
