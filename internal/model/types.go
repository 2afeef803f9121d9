package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Gene slots of a chromosome.
const (
	GeneKineticTime = iota
	GeneKineticSpace
	GeneMass
	GeneSelfInteraction
	GeneGaugeCoupling
	GeneGravityCoupling

	GeneCount
)

// Chromosome is the six-coefficient vector
// [c0, c1, c2, c3, g_em, xi]. It is a value type; copies never alias.
type Chromosome [GeneCount]float64

// ValidationError reports a malformed input at an external boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewChromosome builds a chromosome from an untyped coefficient list.
func NewChromosome(values []float64) (Chromosome, error) {
	var c Chromosome
	if len(values) != GeneCount {
		return c, &ValidationError{
			Field:  "coefficients",
			Reason: fmt.Sprintf("expected %d values, got %d", GeneCount, len(values)),
		}
	}
	copy(c[:], values)
	return c, nil
}

func (c Chromosome) Slice() []float64 {
	out := make([]float64, GeneCount)
	copy(out, c[:])
	return out
}

func (c Chromosome) Finite() bool {
	for _, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Identical compares bit patterns, so NaN genes compare equal to themselves.
func (c Chromosome) Identical(o Chromosome) bool {
	for i := range c {
		if math.Float64bits(c[i]) != math.Float64bits(o[i]) {
			return false
		}
	}
	return true
}

// UltraCoupled reports whether g_em is tied to c3.
func (c Chromosome) UltraCoupled() bool {
	return c[GeneGaugeCoupling] == c[GeneSelfInteraction]
}

// Score is a fitness value. Unlike a bare float64 it survives JSON
// round trips when it is infinite or NaN.
type Score float64

func (s Score) Float() float64 { return float64(s) }

func (s Score) IsFinite() bool {
	f := float64(s)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (s Score) MarshalJSON() ([]byte, error) {
	f := float64(s)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(f)
}

func (s *Score) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("decode score %q: %w", text, err)
		}
		*s = Score(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Score(f)
	return nil
}

// Rejection explains why a candidate carries an infinite fitness.
type Rejection string

const (
	RejectionNone          Rejection = ""
	RejectionTolerance     Rejection = "tolerance"
	RejectionDegenerate    Rejection = "degenerate"
	RejectionWorkerFailure Rejection = "worker_failure"
)

// Candidate is an evaluated chromosome. Derived values are set together by
// one evaluation and are never edited afterwards.
type Candidate struct {
	Chromosome Chromosome `json:"chromosome"`
	Fitness    Score      `json:"fitness"`
	CModel     float64    `json:"c_model"`
	AlphaModel float64    `json:"alpha_model"`
	GModel     float64    `json:"g_model"`
	DeltaC     float64    `json:"delta_c"`
	DeltaAlpha float64    `json:"delta_alpha"`
	DeltaG     float64    `json:"delta_g"`
	Phi0       *float64   `json:"phi0,omitempty"`
	GEm        float64    `json:"g_em"`
	Xi         float64    `json:"xi"`
	Elegance   *float64   `json:"elegance,omitempty"`
	Penalty    float64    `json:"penalty"`
	Rejection  Rejection  `json:"rejection,omitempty"`
	Generation int        `json:"generation"`
}

func (c Candidate) Rejected() bool { return c.Rejection != RejectionNone }

func (c Candidate) DigitsC() int     { return Digits(c.DeltaC) }
func (c Candidate) DigitsAlpha() int { return Digits(c.DeltaAlpha) }
func (c Candidate) DigitsG() int     { return Digits(c.DeltaG) }

// MaxDigits is reported for an exact match.
const MaxDigits = 16

// Digits returns floor(-log10(delta)), the count of matched leading digits.
func Digits(delta float64) int {
	delta = math.Abs(delta)
	if delta == 0 {
		return MaxDigits
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0
	}
	d := int(math.Floor(-math.Log10(delta)))
	if d > MaxDigits {
		return MaxDigits
	}
	if d < 0 {
		return 0
	}
	return d
}

// Less orders candidates by ascending fitness; NaN sorts last.
func Less(a, b Candidate) bool {
	fa, fb := float64(a.Fitness), float64(b.Fitness)
	if math.IsNaN(fb) {
		return !math.IsNaN(fa)
	}
	if math.IsNaN(fa) {
		return false
	}
	return fa < fb
}
