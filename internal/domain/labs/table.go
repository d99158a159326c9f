package labs

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/prenatal/prenatal/internal/domain/dating"
)

//go:embed reference_ranges.yaml
var defaultTableYAML []byte

// Table is an immutable set of compiled rules keyed by analyte and trimester.
type Table struct {
	Version string
	Source  string

	analytes []Analyte
	ids      map[string]string // id or alias -> id
	rules    map[ruleKey]*Rule
}

type ruleKey struct {
	analyte   string
	trimester dating.Trimester
}

type tableFile struct {
	Version  string        `yaml:"version"`
	Analytes []analyteFile `yaml:"analytes"`
}

type analyteFile struct {
	ID      string     `yaml:"id"`
	Name    string     `yaml:"name"`
	Unit    string     `yaml:"unit"`
	Aliases []string   `yaml:"aliases"`
	Rules   []ruleFile `yaml:"rules"`
}

type ruleFile struct {
	Trimesters []int `yaml:"trimesters"`
	Kind       Kind  `yaml:"kind"`

	Inclusive      bool              `yaml:"inclusive"`
	Low            *float64          `yaml:"low"`
	High           *float64          `yaml:"high"`
	OutOfRangeTier Tier              `yaml:"out_of_range_tier"`
	BelowRangeTier Tier              `yaml:"below_range_tier"`
	AboveRangeTier Tier              `yaml:"above_range_tier"`
	CriticalLow    *float64          `yaml:"critical_low"`
	AbnormalLow    *float64          `yaml:"abnormal_low"`
	AttentionLow   *float64          `yaml:"attention_low"`
	AttentionHigh  *float64          `yaml:"attention_high"`
	AbnormalHigh   *float64          `yaml:"abnormal_high"`
	CriticalHigh   *float64          `yaml:"critical_high"`
	Messages       map[string]string `yaml:"messages"`

	Tier             Tier     `yaml:"tier"`
	AbnormalValues   []string `yaml:"abnormal_values"`
	AbnormalPatterns []string `yaml:"abnormal_patterns"`
	NegatedPatterns  []string `yaml:"negated_patterns"`
	Message          string   `yaml:"message"`
}

// ParseTable decodes and compiles a YAML reference-range document. source is
// recorded on the table for diagnostics.
func ParseTable(data []byte, source string) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode reference ranges: %w", err)
	}
	if len(f.Analytes) == 0 {
		return nil, fmt.Errorf("reference ranges: no analytes")
	}

	t := &Table{
		Version: f.Version,
		Source:  source,
		ids:     make(map[string]string),
		rules:   make(map[ruleKey]*Rule),
	}
	for _, a := range f.Analytes {
		id := normalizeID(a.ID)
		if id == "" {
			return nil, fmt.Errorf("reference ranges: analyte without id")
		}
		info := Analyte{ID: id, Name: a.Name, Unit: a.Unit, Trimesters: []dating.Trimester{}}
		for _, name := range append([]string{id}, a.Aliases...) {
			key := normalizeID(name)
			if _, dup := t.ids[key]; dup {
				return nil, fmt.Errorf("analyte %s: duplicate id or alias %q", id, name)
			}
			t.ids[key] = id
			if key != id {
				info.Aliases = append(info.Aliases, key)
			}
		}

		for i, rf := range a.Rules {
			rule, err := rf.compile()
			if err != nil {
				return nil, fmt.Errorf("analyte %s rule %d: %w", id, i, err)
			}
			if len(rf.Trimesters) == 0 {
				return nil, fmt.Errorf("analyte %s rule %d: no trimesters", id, i)
			}
			for _, n := range rf.Trimesters {
				tri := dating.Trimester(n)
				if !tri.Valid() {
					return nil, fmt.Errorf("analyte %s rule %d: invalid trimester %d", id, i, n)
				}
				key := ruleKey{analyte: id, trimester: tri}
				if _, dup := t.rules[key]; dup {
					return nil, fmt.Errorf("analyte %s: trimester %d has more than one rule", id, n)
				}
				t.rules[key] = rule
				info.Trimesters = append(info.Trimesters, tri)
			}
		}
		sort.Slice(info.Trimesters, func(i, j int) bool { return info.Trimesters[i] < info.Trimesters[j] })
		t.analytes = append(t.analytes, info)
	}
	return t, nil
}

// LoadTable reads a table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference ranges %s: %w", path, err)
	}
	return ParseTable(data, "file:"+path)
}

// DefaultTable returns the embedded reference ranges.
var DefaultTable = sync.OnceValue(func() *Table {
	t, err := ParseTable(defaultTableYAML, "embedded")
	if err != nil {
		panic(fmt.Sprintf("embedded reference ranges: %v", err))
	}
	return t
})

// Resolve maps an analyte id or alias to its canonical id.
func (t *Table) Resolve(analyte string) (string, bool) {
	id, ok := t.ids[normalizeID(analyte)]
	return id, ok
}

// Rule looks up the rule for an analyte id or alias in a trimester.
func (t *Table) Rule(analyte string, tri dating.Trimester) (*Rule, bool) {
	id, ok := t.ids[normalizeID(analyte)]
	if !ok {
		return nil, false
	}
	r, ok := t.rules[ruleKey{analyte: id, trimester: tri}]
	return r, ok
}

// Classify is total: a missing analyte or rule classifies as normal.
func (t *Table) Classify(analyte, raw string, tri dating.Trimester) Result {
	r, ok := t.Rule(analyte, tri)
	if !ok {
		return normal
	}
	return r.Classify(raw)
}

// Analytes returns a copy of the analyte list in table order.
func (t *Table) Analytes() []Analyte {
	out := make([]Analyte, len(t.analytes))
	copy(out, t.analytes)
	return out
}

func (rf ruleFile) compile() (*Rule, error) {
	switch rf.Kind {
	case KindNumeric:
		return rf.compileNumeric()
	case KindCategorical:
		return rf.compileCategorical()
	default:
		return nil, fmt.Errorf("unknown kind %q", rf.Kind)
	}
}

func (rf ruleFile) compileNumeric() (*Rule, error) {
	r := &Rule{kind: KindNumeric, inclusive: rf.Inclusive}

	graduated := []struct {
		name  string
		value *float64
		below bool
		tier  Tier
	}{
		{"critical_low", rf.CriticalLow, true, TierCritical},
		{"critical_high", rf.CriticalHigh, false, TierCritical},
		{"abnormal_low", rf.AbnormalLow, true, TierAbnormal},
		{"abnormal_high", rf.AbnormalHigh, false, TierAbnormal},
		{"attention_low", rf.AttentionLow, true, TierAttention},
		{"attention_high", rf.AttentionHigh, false, TierAttention},
	}
	for _, g := range graduated {
		if g.value == nil {
			continue
		}
		r.bounds = append(r.bounds, bound{
			value:   decimal.NewFromFloat(*g.value),
			below:   g.below,
			tier:    g.tier,
			message: rf.Messages[g.name],
		})
	}

	if rf.Low != nil && rf.High != nil && *rf.High < *rf.Low {
		return nil, fmt.Errorf("high %v below low %v", *rf.High, *rf.Low)
	}
	outOfRange := TierAbnormal
	if rf.OutOfRangeTier != "" {
		outOfRange = rf.OutOfRangeTier
	}
	belowTier, aboveTier := outOfRange, outOfRange
	if rf.BelowRangeTier != "" {
		belowTier = rf.BelowRangeTier
	}
	if rf.AboveRangeTier != "" {
		aboveTier = rf.AboveRangeTier
	}
	for _, tier := range []Tier{belowTier, aboveTier} {
		if !tier.Valid() || tier == TierNormal {
			return nil, fmt.Errorf("invalid range tier %q", tier)
		}
	}
	if rf.Low != nil {
		r.bounds = append(r.bounds, bound{value: decimal.NewFromFloat(*rf.Low), below: true, tier: belowTier, message: rf.Messages["low"]})
	}
	if rf.High != nil {
		r.bounds = append(r.bounds, bound{value: decimal.NewFromFloat(*rf.High), tier: aboveTier, message: rf.Messages["high"]})
	}

	if len(r.bounds) == 0 {
		return nil, fmt.Errorf("numeric rule has no bounds")
	}
	return r, nil
}

func (rf ruleFile) compileCategorical() (*Rule, error) {
	if !rf.Tier.Valid() || rf.Tier == TierNormal {
		return nil, fmt.Errorf("categorical rule needs a non-normal tier, got %q", rf.Tier)
	}
	if len(rf.AbnormalValues) == 0 && len(rf.AbnormalPatterns) == 0 {
		return nil, fmt.Errorf("categorical rule has no abnormal values or patterns")
	}
	r := &Rule{
		kind:    KindCategorical,
		tier:    rf.Tier,
		message: rf.Message,
		values:  make(map[string]bool, len(rf.AbnormalValues)),
	}
	for _, v := range rf.AbnormalValues {
		r.values[normalizeValue(v)] = true
	}
	var err error
	if r.patterns, err = compilePatterns(rf.AbnormalPatterns); err != nil {
		return nil, err
	}
	if r.negations, err = compilePatterns(rf.NegatedPatterns); err != nil {
		return nil, err
	}
	return r, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
