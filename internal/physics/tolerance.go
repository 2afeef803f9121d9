package physics

import (
	"fmt"
	"math"
)

// Tolerance is the relative acceptance bound for the light-speed and
// gravity observables at one generation.
type Tolerance struct {
	C float64 `json:"c"`
	G float64 `json:"g"`
}

// ToleranceSchedule maps a generation index to its acceptance tolerance.
// Generations below WarmupGenerations use the warmup bounds. When
// RampGenerations is positive the bounds then tighten log-linearly over that
// many generations before settling on the strict values.
type ToleranceSchedule struct {
	WarmupGenerations int     `json:"warmup_generations"`
	WarmupC           float64 `json:"warmup_eps_c"`
	WarmupG           float64 `json:"warmup_eps_g"`
	StrictC           float64 `json:"strict_eps_c"`
	StrictG           float64 `json:"strict_eps_g"`
	RampGenerations   int     `json:"ramp_generations"`
}

func DefaultToleranceSchedule() ToleranceSchedule {
	return ToleranceSchedule{
		WarmupGenerations: 10,
		WarmupC:           1e-3,
		WarmupG:           1e-2,
		StrictC:           1e-6,
		StrictG:           1e-4,
	}
}

func (s ToleranceSchedule) Validate() error {
	if s.WarmupGenerations < 0 {
		return fmt.Errorf("warmup generations must be >= 0")
	}
	if s.RampGenerations < 0 {
		return fmt.Errorf("ramp generations must be >= 0")
	}
	if !(s.StrictC > 0) || !(s.StrictG > 0) {
		return fmt.Errorf("strict tolerances must be > 0")
	}
	if s.WarmupGenerations > 0 && (!(s.WarmupC > s.StrictC) || !(s.WarmupG > s.StrictG)) {
		return fmt.Errorf("warmup tolerances must be looser than strict tolerances")
	}
	return nil
}

// Settled reports whether generation is past warmup and ramp, so At returns
// the strict bounds from here on.
func (s ToleranceSchedule) Settled(generation int) bool {
	if s.WarmupGenerations == 0 {
		return true
	}
	return generation >= s.WarmupGenerations+s.RampGenerations
}

func (s ToleranceSchedule) At(generation int) Tolerance {
	if generation < s.WarmupGenerations {
		return Tolerance{C: s.WarmupC, G: s.WarmupG}
	}
	strict := Tolerance{C: s.StrictC, G: s.StrictG}
	if s.RampGenerations <= 0 || s.WarmupGenerations == 0 {
		return strict
	}
	step := generation - s.WarmupGenerations + 1
	if step > s.RampGenerations {
		return strict
	}
	progress := float64(step) / float64(s.RampGenerations+1)
	return Tolerance{
		C: s.WarmupC * math.Pow(s.StrictC/s.WarmupC, progress),
		G: s.WarmupG * math.Pow(s.StrictG/s.WarmupG, progress),
	}
}
