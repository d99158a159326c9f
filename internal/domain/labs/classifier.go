package labs

import (
	"sync/atomic"

	"github.com/prenatal/prenatal/internal/domain/dating"
)

// Classifier serves classifications from the current table. It is safe for
// concurrent use; Swap replaces the whole table at once.
type Classifier struct {
	table   atomic.Pointer[Table]
	observe func(analyte string, tier Tier)
}

// UnknownAnalyte is reported to observers for analytes the table does not
// define, so free-form input cannot grow the set of observed names.
const UnknownAnalyte = "unknown"

// Observe registers fn to be called for every classification with the
// canonical analyte id. It must be set before the classifier is shared.
func (c *Classifier) Observe(fn func(analyte string, tier Tier)) {
	c.observe = fn
}

func (c *Classifier) record(t *Table, analyte string, r Result) Result {
	if c.observe != nil {
		id, ok := t.Resolve(analyte)
		if !ok {
			id = UnknownAnalyte
		}
		c.observe(id, r.Tier)
	}
	return r
}

// NewClassifier creates a classifier. A nil table means the embedded default.
func NewClassifier(t *Table) *Classifier {
	if t == nil {
		t = DefaultTable()
	}
	c := &Classifier{}
	c.table.Store(t)
	return c
}

func (c *Classifier) Table() *Table { return c.table.Load() }

// Swap installs t and returns the previous table. A nil t is ignored.
func (c *Classifier) Swap(t *Table) *Table {
	if t == nil {
		return c.table.Load()
	}
	return c.table.Swap(t)
}

func (c *Classifier) Classify(analyte, raw string, tri dating.Trimester) Result {
	t := c.table.Load()
	return c.record(t, analyte, t.Classify(analyte, raw, tri))
}

// ClassifyAll classifies a panel against a single table snapshot.
func (c *Classifier) ClassifyAll(batch []Measurement, tri dating.Trimester) []Classified {
	t := c.table.Load()
	out := make([]Classified, len(batch))
	for i, m := range batch {
		out[i] = Classified{Measurement: m, Result: c.record(t, m.Analyte, t.Classify(m.Analyte, m.Value, tri))}
	}
	return out
}

func (c *Classifier) Analytes() []Analyte {
	return c.table.Load().Analytes()
}

// Classify uses the embedded default table.
func Classify(analyte, raw string, tri dating.Trimester) Result {
	return DefaultTable().Classify(analyte, raw, tri)
}
