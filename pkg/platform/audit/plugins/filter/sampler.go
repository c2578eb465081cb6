package filter

import (
	"maps"
	"math/rand/v2"
)

// Sampler keeps a fraction of events per action. It is fixed at construction.
type Sampler struct {
	defaultRate float64
	rates       map[string]float64
	random      func() float64
}

// NewSampler keeps defaultRate of all actions, except the actions listed in rates.
// Rates are clamped to [0, 1].
func NewSampler(defaultRate float64, rates map[string]float64) *Sampler {
	s := &Sampler{
		defaultRate: clamp(defaultRate),
		rates:       maps.Clone(rates),
		random:      rand.Float64, //nolint:gosec // sampling doesn't need crypto rand
	}
	for action, r := range s.rates {
		s.rates[action] = clamp(r)
	}
	return s
}

// Rate returns the fraction of action events kept.
func (s *Sampler) Rate(action string) float64 {
	if r, ok := s.rates[action]; ok {
		return r
	}
	return s.defaultRate
}

// Keep draws whether one action event survives.
func (s *Sampler) Keep(action string) bool {
	switch r := s.Rate(action); r {
	case 1:
		return true
	case 0:
		return false
	default:
		return s.random() < r
	}
}

func clamp(rate float64) float64 {
	return min(max(rate, 0), 1)
}
