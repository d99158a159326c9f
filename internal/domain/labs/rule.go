package labs

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// bound is one numeric threshold. below bounds fire when the value is under
// the threshold, the others when it is over.
type bound struct {
	value   decimal.Decimal
	below   bool
	tier    Tier
	message string
}

// Rule is a compiled reference range for one analyte and trimester.
type Rule struct {
	kind Kind

	// numeric
	inclusive bool
	bounds    []bound

	// categorical
	values    map[string]bool
	patterns  []*regexp.Regexp
	negations []*regexp.Regexp // veto patterns, e.g. "não reagente"
	tier      Tier
	message   string
}

func (r *Rule) Kind() Kind { return r.kind }

// Classify never fails. Blank, "-" and unparseable values are normal.
func (r *Rule) Classify(raw string) Result {
	value := normalizeValue(raw)
	if value == "" || value == "-" {
		return normal
	}
	if r.kind == KindCategorical {
		return r.classifyCategorical(value)
	}
	n, ok := parseNumber(value)
	if !ok {
		return normal
	}
	return r.classifyNumeric(n)
}

// classifyNumeric returns the most severe bound crossed. Bounds are ordered
// so that on equal severity the graduated threshold wins over the range.
func (r *Rule) classifyNumeric(n decimal.Decimal) Result {
	best := normal
	for _, b := range r.bounds {
		if !r.crosses(n, b) {
			continue
		}
		if b.tier.MoreSevere(best.Tier) {
			best = Result{Tier: b.tier, Message: b.message}
		}
	}
	return best
}

func (r *Rule) crosses(n decimal.Decimal, b bound) bool {
	cmp := n.Cmp(b.value)
	if b.below {
		return cmp < 0 || (r.inclusive && cmp == 0)
	}
	return cmp > 0 || (r.inclusive && cmp == 0)
}

// classifyCategorical checks the exact values first. Patterns match anywhere
// in the text unless a negation is present.
func (r *Rule) classifyCategorical(value string) Result {
	if r.values[value] {
		return Result{Tier: r.tier, Message: r.message}
	}
	for _, n := range r.negations {
		if n.MatchString(value) {
			return normal
		}
	}
	for _, p := range r.patterns {
		if p.MatchString(value) {
			return Result{Tier: r.tier, Message: r.message}
		}
	}
	return normal
}

var numberPattern = regexp.MustCompile(`[-+]?\d+(?:[.,]\d+)?`)

// parseNumber takes the first number in s. A comma decimal separator is
// accepted, so "11,2 g/dL" reads as 11.2.
func parseNumber(s string) (decimal.Decimal, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return decimal.Decimal{}, false
	}
	n, err := decimal.NewFromString(strings.Replace(m, ",", ".", 1))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return n, true
}

// normalizeValue trims, lower-cases and collapses inner whitespace.
func normalizeValue(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
