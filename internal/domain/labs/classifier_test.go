package labs

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prenatal/prenatal/internal/domain/dating"
)

const graduatedDoc = `
version: "test"
analytes:
  - id: marker
    name: Marker
    rules:
      - trimesters: [2]
        kind: numeric
        attention_high: 20
        abnormal_high: 30
        messages:
          attention_high: slightly high
          abnormal_high: high
`

func mustTable(t *testing.T, doc string) *Table {
	t.Helper()
	tbl, err := ParseTable([]byte(doc), "test")
	if err != nil {
		t.Fatalf("parse table: %v", err)
	}
	return tbl
}

func TestClassify_GraduatedThresholds(t *testing.T) {
	c := NewClassifier(mustTable(t, graduatedDoc))
	tests := []struct {
		raw  string
		tri  dating.Trimester
		want Tier
		msg  string
	}{
		{"25", 2, TierAttention, "slightly high"},
		{"35", 2, TierAbnormal, "high"},
		{"", 2, TierNormal, ""},
		{"20", 2, TierNormal, ""},
		{"30", 2, TierAttention, "slightly high"},
		{"35", 1, TierNormal, ""},
		{"35", 3, TierNormal, ""},
		{"not a number", 2, TierNormal, ""},
		{"-", 2, TierNormal, ""},
	}
	for _, tt := range tests {
		got := c.Classify("marker", tt.raw, tt.tri)
		if got.Tier != tt.want || got.Message != tt.msg {
			t.Errorf("Classify(%q, T%d) = %+v, want %s %q", tt.raw, tt.tri, got, tt.want, tt.msg)
		}
	}
}

func TestClassify_UnknownAnalyteIsNormal(t *testing.T) {
	for _, tri := range []dating.Trimester{0, 1, 2, 3, 4} {
		if got := Classify("no_such_analyte", "999", tri); got.Tier != TierNormal {
			t.Errorf("trimester %d: expected normal, got %+v", tri, got)
		}
	}
}

func TestClassify_DefaultTable(t *testing.T) {
	tests := []struct {
		name    string
		analyte string
		raw     string
		tri     dating.Trimester
		want    Tier
	}{
		{"anemia first trimester", "hemoglobin", "10.5", 1, TierAbnormal},
		{"low hemoglobin", "hemoglobin", "11.2", 1, TierAbnormal},
		{"normal hemoglobin with comma", "hemoglobin", "12,5 g/dL", 1, TierNormal},
		{"high hemoglobin", "hemoglobin", "14.5", 1, TierAbnormal},
		{"legacy alias", "hemoglobina_hematocrito", "10", 1, TierAbnormal},
		{"alias is case insensitive", " Hemoglobina_Hematocrito ", "12", 1, TierNormal},
		{"low platelets", "platelets", "150", 2, TierAbnormal},
		{"high platelets", "platelets", "420", 2, TierAttention},
		{"normal platelets", "platelets", "250", 2, TierNormal},
		{"glucose at threshold", "fasting_glucose", "92", 1, TierCritical},
		{"glucose below threshold", "fasting_glucose", "91.9", 1, TierNormal},
		{"vdrl reactive", "vdrl", "Reagente", 1, TierCritical},
		{"vdrl titre", "vdrl", "Reagente 1:8", 1, TierCritical},
		{"vdrl non reactive", "vdrl", "Não reagente", 1, TierNormal},
		{"anti-hbs non reactive", "anti_hbs", "Não  Reagente", 1, TierCritical},
		{"anti-hbs reactive", "anti_hbs", "Reagente", 1, TierNormal},
		{"rubella igg negative", "rubella_igg", "negativo", 2, TierAttention},
		{"toxoplasmosis igg has no rule", "toxoplasmosis_igg", "reagente", 1, TierNormal},
		{"rh negative", "blood_typing", "O-", 1, TierAttention},
		{"rh negative text", "blood_typing", "A Rh negativo", 1, TierAttention},
		{"rh positive", "blood_typing", "AB+", 1, TierNormal},
		{"rh negative spaced", "blood_typing", "Tipo O -", 1, TierAttention},
		{"coombs free text", "indirect_coombs", "Coombs positivo", 2, TierCritical},
		{"coombs negated", "indirect_coombs", "Coombs não reagente", 2, TierNormal},
		{"vdrl free text", "vdrl", "VDRL reagente 1/8", 1, TierCritical},
		{"vdrl negated free text", "vdrl", "VDRL não reagente", 1, TierNormal},
		{"urine culture free text", "urine_culture", "Cultura positiva para E. coli", 1, TierCritical},
		{"urine culture negative", "urine_culture", "Cultura negativa", 1, TierNormal},
		{"gbs free text", "gbs_swab", "Streptococcus B detectado", 3, TierCritical},
		{"gbs not detected", "gbs_swab", "Streptococcus B não detectado", 3, TierNormal},
		{"gbs not detected english", "gbs_swab", "GBS not detected", 3, TierNormal},
		{"hiv negated free text", "hiv", "HIV 1/2 não reagente", 1, TierNormal},
		{"urine culture no growth", "urine_culture", "Sem crescimento bacteriano", 1, TierNormal},
		{"urine culture count", "urine_culture", ">100.000 UFC/mL E. coli", 1, TierCritical},
		{"gbs positive third trimester", "gbs_swab", "Positivo", 3, TierCritical},
		{"gbs only third trimester", "gbs_swab", "Positivo", 2, TierNormal},
		{"ogtt 2h", "ogtt_2h", "153", 2, TierCritical},
		{"ogtt only second trimester", "ogtt_2h", "200", 3, TierNormal},
		{"tsh high", "tsh", "2.6", 1, TierAbnormal},
		{"tsh low", "tsh", "0.05", 1, TierAbnormal},
		{"tsh normal", "tsh", "1.0", 1, TierNormal},
		{"urinalysis altered", "urinalysis", "Alterado", 1, TierAbnormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.analyte, tt.raw, tt.tri)
			if got.Tier != tt.want {
				t.Errorf("Classify(%s, %q, T%d) = %+v, want %s", tt.analyte, tt.raw, tt.tri, got, tt.want)
			}
			if got.Tier != TierNormal && got.Message == "" {
				t.Errorf("expected a message for %s", got.Tier)
			}
		})
	}
}

func TestClassify_AnemiaMessagePreferredOverRange(t *testing.T) {
	got := Classify("hemoglobin", "9", 2)
	if got.Tier != TierAbnormal || got.Message != "Anemia (below 10.5 g/dL)" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestClassifyAll(t *testing.T) {
	c := NewClassifier(nil)
	out := c.ClassifyAll([]Measurement{
		{Analyte: "hiv", Value: "Não reagente"},
		{Analyte: "hiv", Value: "Reagente"},
		{Analyte: "ferritin", Value: "12"},
	}, 1)
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	want := []Tier{TierNormal, TierCritical, TierAbnormal}
	for i, w := range want {
		if out[i].Tier != w {
			t.Errorf("result %d: expected %s, got %s", i, w, out[i].Tier)
		}
	}
	if out[2].Analyte != "ferritin" || out[2].Value != "12" {
		t.Errorf("measurement not echoed: %+v", out[2])
	}
}

func TestObserve(t *testing.T) {
	c := NewClassifier(nil)
	seen := map[string]Tier{}
	c.Observe(func(analyte string, tier Tier) { seen[analyte] = tier })

	c.Classify("vdrl", "Reagente", 1)
	c.ClassifyAll([]Measurement{{Analyte: "ferritin", Value: "12"}}, 1)

	if seen["vdrl"] != TierCritical || seen["ferritin"] != TierAbnormal {
		t.Errorf("unexpected observations %v", seen)
	}
}

func TestObserve_CanonicalIDs(t *testing.T) {
	c := NewClassifier(nil)
	counts := map[string]int{}
	c.Observe(func(analyte string, _ Tier) { counts[analyte]++ })

	c.Classify("Plaquetas", "90000", 2)
	c.Classify(" platelets ", "200000", 2)
	for i := 0; i < 1000; i++ {
		c.Classify(fmt.Sprintf("made-up-%d", i), "1", 1)
	}
	c.ClassifyAll([]Measurement{{Analyte: "x\"\n", Value: "1"}}, 1)

	want := map[string]int{"platelets": 2, UnknownAnalyte: 1001}
	if len(counts) != len(want) {
		t.Fatalf("expected %d observed names, got %v", len(want), len(counts))
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("%s: expected %d observations, got %d", k, n, counts[k])
		}
	}
}

func TestTable_Resolve(t *testing.T) {
	tbl := DefaultTable()
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"platelets", "platelets", true},
		{"PLAQUETAS", "platelets", true},
		{"hemoglobin", "hemoglobin", true},
		{"nonexistent", "", false},
	}
	for _, tt := range tests {
		got, ok := tbl.Resolve(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestAnalytes(t *testing.T) {
	list := NewClassifier(nil).Analytes()
	byID := map[string]Analyte{}
	for _, a := range list {
		byID[a.ID] = a
	}
	hb, ok := byID["hemoglobin"]
	if !ok {
		t.Fatal("expected hemoglobin in analyte list")
	}
	if len(hb.Trimesters) != 3 || hb.Unit != "g/dL" {
		t.Errorf("unexpected hemoglobin entry %+v", hb)
	}
	if gbs := byID["gbs_swab"]; len(gbs.Trimesters) != 1 || gbs.Trimesters[0] != 3 {
		t.Errorf("unexpected gbs entry %+v", gbs)
	}
	if cmv := byID["cmv_igg"]; cmv.Trimesters == nil || len(cmv.Trimesters) != 0 {
		t.Errorf("expected empty trimester list for cmv_igg, got %+v", cmv.Trimesters)
	}

	list[0].ID = "mutated"
	if NewClassifier(nil).Analytes()[0].ID == "mutated" {
		t.Error("Analytes must return a copy")
	}
}

func TestSwap_IsAtomic(t *testing.T) {
	attention := mustTable(t, graduatedDoc)
	abnormal := mustTable(t, `
analytes:
  - id: marker
    rules:
      - trimesters: [2]
        kind: numeric
        abnormal_high: 20
`)
	c := NewClassifier(attention)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := c.Classify("marker", "25", 2).Tier
				if got != TierAttention && got != TierAbnormal {
					t.Errorf("observed inconsistent tier %s", got)
					return
				}
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			c.Swap(abnormal)
		} else {
			c.Swap(attention)
		}
	}
	close(stop)
	wg.Wait()

	if prev := c.Swap(nil); prev != attention {
		t.Error("Swap(nil) must keep the current table")
	}
}

func TestParseTable_Errors(t *testing.T) {
	cases := map[string]string{
		"empty": `version: "x"`,
		"unknown kind": `
analytes:
  - id: a
    rules:
      - {trimesters: [1], kind: magic}`,
		"numeric without bounds": `
analytes:
  - id: a
    rules:
      - {trimesters: [1], kind: numeric}`,
		"inverted range": `
analytes:
  - id: a
    rules:
      - {trimesters: [1], kind: numeric, low: 10, high: 5}`,
		"categorical without tier": `
analytes:
  - id: a
    rules:
      - {trimesters: [1], kind: categorical, abnormal_values: [x]}`,
		"categorical without values": `
analytes:
  - id: a
    rules:
      - {trimesters: [1], kind: categorical, tier: critical}`,
		"bad pattern": `
analytes:
  - id: a
    rules:
      - {trimesters: [1], kind: categorical, tier: critical, abnormal_patterns: ["("]}`,
		"bad negated pattern": `
analytes:
  - id: a
    rules:
      - {trimesters: [1], kind: categorical, tier: critical, abnormal_patterns: [x], negated_patterns: ["["]}`,
		"bad trimester": `
analytes:
  - id: a
    rules:
      - {trimesters: [4], kind: numeric, low: 1}`,
		"no trimesters": `
analytes:
  - id: a
    rules:
      - {kind: numeric, low: 1}`,
		"duplicate trimester": `
analytes:
  - id: a
    rules:
      - {trimesters: [1, 2], kind: numeric, low: 1}
      - {trimesters: [2], kind: numeric, low: 2}`,
		"duplicate alias": `
analytes:
  - id: a
    aliases: [b]
  - id: b`,
		"bad range tier": `
analytes:
  - id: a
    rules:
      - {trimesters: [1], kind: numeric, low: 1, out_of_range_tier: normal}`,
		"missing id": `
analytes:
  - name: nameless`,
	}
	for name, doc := range cases {
		if _, err := ParseTable([]byte(doc), "test"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestInclusiveLowBound(t *testing.T) {
	tbl := mustTable(t, `
analytes:
  - id: a
    rules:
      - {trimesters: [1, 2, 3], kind: numeric, inclusive: true, critical_low: 5, attention_low: 10}`)
	tests := map[string]Tier{"5": TierCritical, "4.99": TierCritical, "7": TierAttention, "10": TierAttention, "10.01": TierNormal}
	for raw, want := range tests {
		if got := tbl.Classify("a", raw, 3).Tier; got != want {
			t.Errorf("Classify(%s) = %s, want %s", raw, got, want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := map[string]string{
		"12":            "12",
		"12,5 g/dL":     "12.5",
		"Hb 11.2 / 33%": "11.2",
		"-3":            "-3",
		"<0.1":          "0.1",
	}
	for raw, want := range tests {
		n, ok := parseNumber(raw)
		if !ok || n.String() != want {
			t.Errorf("parseNumber(%q) = %s %v, want %s", raw, n, ok, want)
		}
	}
	if _, ok := parseNumber("reagente"); ok {
		t.Error("expected no number")
	}
}
