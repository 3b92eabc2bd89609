// Package scorer implements the Universal Transfer Score (UTS) for
// short-form video viral potential.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Weights holds the per-layer weights of the UTS. There is no L6 layer.
type Weights struct {
	ViralLift  float64 `yaml:"l1" mapstructure:"l1"`
	Velocity   float64 `yaml:"l2" mapstructure:"l2"`
	Retention  float64 `yaml:"l3" mapstructure:"l3"`
	Cascade    float64 `yaml:"l4" mapstructure:"l4"`
	Saturation float64 `yaml:"l5" mapstructure:"l5"`
	Stability  float64 `yaml:"l7" mapstructure:"l7"`
}

// DefaultWeights returns the production layer weights. They sum to 1.0.
func DefaultWeights() Weights {
	return Weights{
		ViralLift:  0.30,
		Velocity:   0.20,
		Retention:  0.20,
		Cascade:    0.15,
		Saturation: 0.10,
		Stability:  0.05,
	}
}

// WeightSum returns the sum of all layer weights.
func WeightSum(w Weights) float64 {
	return w.ViralLift + w.Velocity + w.Retention + w.Cascade + w.Saturation + w.Stability
}

// ValidateWeights checks that every weight is non-negative and that the
// weights sum to 1.0.
func ValidateWeights(w Weights) error {
	var errs []string

	weights := map[string]float64{
		"l1": w.ViralLift,
		"l2": w.Velocity,
		"l3": w.Retention,
		"l4": w.Cascade,
		"l5": w.Saturation,
		"l7": w.Stability,
	}
	for name, v := range weights {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	if sum := WeightSum(w); math.Abs(sum-1) > 1e-9 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1.0, got %.3f", sum))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: weight validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
