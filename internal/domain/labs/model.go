// Package labs classifies prenatal lab results against trimester-specific
// reference ranges.
//
// Rules live in an immutable Table. A Classifier holds the current table
// behind an atomic pointer so a reload never exposes a partly built rule set.
package labs

import (
	"github.com/prenatal/prenatal/internal/domain/dating"
)

// Tier is the severity of a lab result.
type Tier string

const (
	TierNormal    Tier = "normal"
	TierAttention Tier = "attention"
	TierAbnormal  Tier = "abnormal"
	TierCritical  Tier = "critical"
)

var tierSeverity = map[Tier]int{
	TierNormal:    0,
	TierAttention: 1,
	TierAbnormal:  2,
	TierCritical:  3,
}

func (t Tier) Valid() bool {
	_, ok := tierSeverity[t]
	return ok
}

// Severity orders tiers from normal (0) to critical (3).
func (t Tier) Severity() int { return tierSeverity[t] }

// MoreSevere reports whether t ranks above other.
func (t Tier) MoreSevere(other Tier) bool { return t.Severity() > other.Severity() }

// Result is a classification. It is never persisted; callers recompute it from
// the stored raw value.
type Result struct {
	Tier    Tier   `json:"tier"`
	Message string `json:"message,omitempty"`
}

var normal = Result{Tier: TierNormal}

type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
)

// Analyte describes one entry of a table.
type Analyte struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Unit       string             `json:"unit,omitempty"`
	Aliases    []string           `json:"aliases,omitempty"`
	Trimesters []dating.Trimester `json:"trimesters"`
}

// Measurement is one raw lab value in a panel.
type Measurement struct {
	Analyte string `json:"analyte"`
	Value   string `json:"value"`
}

// Classified pairs a measurement with its classification.
type Classified struct {
	Measurement
	Result
}
