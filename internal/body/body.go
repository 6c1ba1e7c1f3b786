// Package body builds agent compositions from declarative part specs.
package body

import (
	"math"

	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/types"
)

const (
	// MaxParts is the largest body a facility can produce.
	MaxParts = 50
	// MaxIterations bounds the scaling search in Generate.
	MaxIterations = 5
)

// Part returns a part spec. Zero ratio defaults to 1 and zero max to MaxParts.
func Part(part string, ratio float64, min, max int) types.BodyPartSpec {
	if ratio <= 0 {
		ratio = 1
	}
	if max <= 0 {
		max = MaxParts
	}
	return types.BodyPartSpec{Part: part, Ratio: ratio, Min: min, Max: max}
}

// NewSpec builds a spec from parts. The parts slice is copied.
func NewSpec(parts ...types.BodyPartSpec) types.BodySpec {
	cp := make([]types.BodyPartSpec, len(parts))
	copy(cp, parts)
	return types.BodySpec{Parts: cp}
}

// MinCost returns the cost of the minimum body and caches it in spec.
func MinCost(spec *types.BodySpec) int {
	if spec.MinCost > 0 {
		return spec.MinCost
	}
	total := 0
	for _, p := range spec.Parts {
		total += world.PartCost(p.Part) * p.Min
	}
	spec.MinCost = total
	return total
}

// Cost sums the part costs of a concrete body.
func Cost(parts []string) int {
	total := 0
	for _, p := range parts {
		total += world.PartCost(p)
	}
	return total
}

// Generate scales spec to fit energy. It returns false when no body within
// the budget and the part ceiling is found in MaxIterations attempts.
func Generate(spec types.BodySpec, energy int) ([]string, bool) {
	if energy <= 0 || len(spec.Parts) == 0 {
		return nil, false
	}

	ratioCost := 0.0
	for _, p := range spec.Parts {
		ratioCost += float64(world.PartCost(p.Part)) * p.Ratio
	}
	if ratioCost <= 0 {
		return nil, false
	}

	scalar := float64(energy) / ratioCost
	for i := 0; i < MaxIterations; i++ {
		counts, parts, cost := scale(spec, scalar)
		partRatio := float64(parts) / MaxParts
		costRatio := float64(cost) / float64(energy)
		if partRatio <= 1 && costRatio <= 1 {
			if parts == 0 {
				return nil, false
			}
			return expand(spec, counts), true
		}
		scalar /= math.Max(partRatio, costRatio)
	}
	return nil, false
}

func scale(spec types.BodySpec, scalar float64) (counts []int, parts, cost int) {
	counts = make([]int, len(spec.Parts))
	for i, p := range spec.Parts {
		n := int(math.Floor(p.Ratio * scalar))
		n = clamp(n, p.Min, p.Max)
		counts[i] = n
		parts += n
		cost += n * world.PartCost(p.Part)
	}
	return counts, parts, cost
}

func expand(spec types.BodySpec, counts []int) []string {
	var out []string
	for i, p := range spec.Parts {
		for n := 0; n < counts[i]; n++ {
			out = append(out, p.Part)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
