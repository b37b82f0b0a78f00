package assessment

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// WeightedScore is one category's contribution to the overall score.
type WeightedScore struct {
	Score  float64
	Weight float64
}

// Penalty multiplies the overall score by Factor once for every category
// scoring below Below.
type Penalty struct {
	Below  float64 `json:"below" yaml:"below"`
	Factor float64 `json:"factor" yaml:"factor"`
}

// FloorClamp caps the overall score at Max as soon as any single category
// scores below Below.
type FloorClamp struct {
	Below float64 `json:"below" yaml:"below"`
	Max   float64 `json:"max" yaml:"max"`
}

// Policy holds the optional aggregation hooks. They are applied in a fixed
// order: weighted mean, penalties, floor clamp, ceiling, rounding.
type Policy struct {
	Penalty    *Penalty    `json:"penalty,omitempty" yaml:"penalty"`
	FloorClamp *FloorClamp `json:"floor_clamp,omitempty" yaml:"floor_clamp"`
	Ceiling    *float64    `json:"ceiling,omitempty" yaml:"ceiling"`
}

func (p Policy) validate() error {
	if p.Penalty != nil && (p.Penalty.Factor <= 0 || p.Penalty.Factor > 1) {
		return errors.New("penalty factor must be in (0,1]")
	}
	if p.Penalty != nil && p.FloorClamp != nil && p.FloorClamp.Below > p.Penalty.Below {
		return errors.New("floor clamp threshold must not exceed the penalty threshold")
	}
	if p.Ceiling != nil && math.IsNaN(*p.Ceiling) {
		return errors.New("ceiling must be a number")
	}
	return nil
}

// Aggregate computes the overall score as the mean of scores weighted by
// their present weight, then applies the policy hooks and rounds to one
// decimal, half away from zero. Entries without positive weight are ignored;
// an input without any yields 0.
func Aggregate(scores []WeightedScore, policy Policy) float64 {
	var sum, total float64
	for _, s := range scores {
		if s.Weight <= 0 || math.IsNaN(s.Score) || math.IsNaN(s.Weight) {
			continue
		}
		sum += s.Score * s.Weight
		total += s.Weight
	}
	if total == 0 {
		return 0
	}
	overall := sum / total

	if p := policy.Penalty; p != nil {
		for _, s := range scores {
			if s.Weight > 0 && s.Score < p.Below {
				overall *= p.Factor
			}
		}
	}
	if f := policy.FloorClamp; f != nil {
		for _, s := range scores {
			if s.Weight > 0 && s.Score < f.Below {
				overall = math.Min(overall, f.Max)
				break
			}
		}
	}
	if policy.Ceiling != nil {
		overall = math.Min(overall, *policy.Ceiling)
	}
	return round1(overall)
}

// round1 rounds to one decimal place, half away from zero. The epsilon absorbs
// binary representation error so 5.65 rounds to 5.7.
func round1(v float64) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*10+math.Copysign(1e-9, v)) / 10
}

type gradeStep struct {
	min    float64
	letter string
}

var gradeTable = []gradeStep{
	{9.0, "A+"},
	{8.5, "A"},
	{8.0, "A-"},
	{7.5, "B+"},
	{7.0, "B"},
	{6.5, "B-"},
	{6.0, "C+"},
	{5.5, "C"},
	{5.0, "C-"},
	{4.5, "D+"},
	{4.0, "D"},
	{3.5, "D-"},
}

// Grade maps an overall score on the [0,10] scale to its letter.
func Grade(score float64) string {
	for _, step := range gradeTable {
		if score >= step.min {
			return step.letter
		}
	}
	return "F"
}

// GradeLegend renders the grade table for prompts, e.g. "9.0-10: A+ | ... | 0-3.4: F".
func GradeLegend() string {
	parts := make([]string, 0, len(gradeTable)+1)
	upper := "10"
	for _, step := range gradeTable {
		parts = append(parts, fmt.Sprintf("%.1f-%s: %s", step.min, upper, step.letter))
		upper = fmt.Sprintf("%.1f", step.min-0.1)
	}
	parts = append(parts, fmt.Sprintf("0-%s: F", upper))
	return strings.Join(parts, " | ")
}
