// Package anthropometry holds advisory plausibility checks for maternal
// height and pre-pregnancy weight, and the BMI-based weight gain guidance.
package anthropometry

import (
	"math"

	"github.com/prenatal/prenatal/pkg/apperror"
)

const (
	MinHeightCm = 120.0
	MaxHeightCm = 200.0
	MinWeightKg = 30.0
	MaxWeightKg = 180.0
)

// Direction says which bound a flagged value crossed.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionLow  Direction = "low"
	DirectionHigh Direction = "high"
)

// Check is the outcome of one plausibility test. A flagged value is still
// accepted; callers decide whether to ask for confirmation.
type Check struct {
	Show      bool      `json:"show"`
	Message   string    `json:"message,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

const (
	msgHeightLow  = "height below 120 cm, check the value"
	msgHeightHigh = "height above 200 cm, check the value"
	msgWeightLow  = "weight below 30 kg, check the value"
	msgWeightHigh = "weight above 180 kg, check the value"
)

func ValidateHeight(cm float64) Check {
	return bounds(cm, MinHeightCm, MaxHeightCm, msgHeightLow, msgHeightHigh)
}

func ValidateWeight(kg float64) Check {
	return bounds(kg, MinWeightKg, MaxWeightKg, msgWeightLow, msgWeightHigh)
}

func bounds(v, lo, hi float64, low, high string) Check {
	switch {
	case v < lo:
		return Check{Show: true, Message: low, Direction: DirectionLow}
	case v > hi:
		return Check{Show: true, Message: high, Direction: DirectionHigh}
	default:
		return Check{}
	}
}

// Measurements are the anthropometric fields of a patient record. Nil means
// not entered.
type Measurements struct {
	HeightCm *float64 `json:"height_cm"`
	WeightKg *float64 `json:"weight_kg"`
}

// Report aggregates the checks for one record.
type Report struct {
	Height *Check         `json:"height,omitempty"`
	Weight *Check         `json:"weight,omitempty"`
	BMI    *BMIAssessment `json:"bmi,omitempty"`
}

// Validate runs every check for which a value is present. The BMI
// assessment is added when both values are present and positive.
func Validate(m Measurements) Report {
	var r Report
	if m.HeightCm != nil {
		c := ValidateHeight(*m.HeightCm)
		r.Height = &c
	}
	if m.WeightKg != nil {
		c := ValidateWeight(*m.WeightKg)
		r.Weight = &c
	}
	if m.HeightCm != nil && m.WeightKg != nil {
		if a, err := AssessBMI(*m.HeightCm, *m.WeightKg); err == nil {
			r.BMI = &a
		}
	}
	return r
}

// BMICategory follows the WHO adult cut-offs.
type BMICategory string

const (
	BMIUnderweight BMICategory = "underweight"
	BMINormal      BMICategory = "normal"
	BMIOverweight  BMICategory = "overweight"
	BMIObese       BMICategory = "obese"
)

// BMIAssessment carries the pre-pregnancy BMI and the recommended total
// gestational weight gain for its category.
type BMIAssessment struct {
	BMI       float64     `json:"bmi"`
	Category  BMICategory `json:"category"`
	GainMinKg float64     `json:"gain_min_kg"`
	GainMaxKg float64     `json:"gain_max_kg"`
}

var gainRanges = []struct {
	below    float64
	category BMICategory
	min, max float64
}{
	{18.5, BMIUnderweight, 12.5, 18},
	{25, BMINormal, 11.5, 16},
	{30, BMIOverweight, 7, 11.5},
	{math.Inf(1), BMIObese, 5, 9},
}

// AssessBMI computes BMI from height in centimetres and weight in
// kilograms, rounded to one decimal.
func AssessBMI(heightCm, weightKg float64) (BMIAssessment, error) {
	if heightCm <= 0 || weightKg <= 0 {
		return BMIAssessment{}, apperror.NewValidationError("height and weight must be positive")
	}
	m := heightCm / 100
	bmi := math.Round(weightKg/(m*m)*10) / 10
	for _, r := range gainRanges {
		if bmi < r.below {
			return BMIAssessment{BMI: bmi, Category: r.category, GainMinKg: r.min, GainMaxKg: r.max}, nil
		}
	}
	return BMIAssessment{}, apperror.NewInternalError("bmi out of table", nil)
}
