// Package schedule derives prenatal milestones and the routine visit
// calendar from a due-date anchor. Offsets, target weeks and exams come from
// a Protocol, which is plain data.
package schedule

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prenatal/prenatal/pkg/apperror"
	"github.com/prenatal/prenatal/pkg/calendar"
)

//go:embed protocol.yaml
var defaultProtocolYAML []byte

//go:embed clinic_calendar.yaml
var defaultClinicCalendarYAML []byte

// MaxTargetWeek bounds protocol target weeks.
const MaxTargetWeek = 45

// Protocol is an immutable scheduling configuration.
type Protocol struct {
	Version       string
	MilestoneDefs []MilestoneDef
	TargetWeeks   []int
	Exams         []ExamRule
	Clinic        *ClinicCalendar
}

type MilestoneDef struct {
	Key        string   `yaml:"key" json:"key"`
	Title      string   `yaml:"title" json:"title"`
	Category   Category `yaml:"category" json:"category"`
	OffsetDays *int     `yaml:"offset_days" json:"offset_days,omitempty"`
	StartDays  *int     `yaml:"start_days" json:"start_days,omitempty"`
	EndDays    *int     `yaml:"end_days" json:"end_days,omitempty"`
}

// ExamRule attaches an exam to visits whose target week is in
// [FromWeek, ToWeek].
type ExamRule struct {
	FromWeek int  `yaml:"from_week" json:"from_week"`
	ToWeek   int  `yaml:"to_week" json:"to_week"`
	Exam     Exam `yaml:"exam" json:"exam"`
}

type protocolFile struct {
	Version    string         `yaml:"version"`
	Milestones []MilestoneDef `yaml:"milestones"`
	Visits     struct {
		TargetWeeks []int      `yaml:"target_weeks"`
		Exams       []ExamRule `yaml:"exams"`
	} `yaml:"visits"`
	Clinic *clinicFile `yaml:"clinic"`
}

var validCategories = map[Category]bool{
	CategoryConception: true, CategoryMorphologyScan: true, CategoryVaccine: true,
	CategoryTrimesterMark: true, CategoryTermWindow: true,
}

var validExams = map[Exam]bool{
	ExamNone: true, ExamObstetricUltrasound: true, ExamCardiotocography: true,
}

// ParseProtocol decodes and validates a protocol document.
func ParseProtocol(data []byte) (*Protocol, error) {
	var f protocolFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode protocol: %w", err)
	}

	p := &Protocol{
		Version:       f.Version,
		MilestoneDefs: f.Milestones,
		Exams:         f.Visits.Exams,
	}
	for i, m := range p.MilestoneDefs {
		if m.Key == "" || m.Title == "" {
			return nil, fmt.Errorf("milestone %d: key and title are required", i)
		}
		if !validCategories[m.Category] {
			return nil, fmt.Errorf("milestone %s: unknown category %q", m.Key, m.Category)
		}
		single := m.OffsetDays != nil
		ranged := m.StartDays != nil && m.EndDays != nil
		if single == ranged {
			return nil, fmt.Errorf("milestone %s: set either offset_days or start_days/end_days", m.Key)
		}
		if ranged && *m.EndDays < *m.StartDays {
			return nil, fmt.Errorf("milestone %s: end_days before start_days", m.Key)
		}
	}
	for _, r := range p.Exams {
		if !validExams[r.Exam] {
			return nil, fmt.Errorf("unknown exam %q", r.Exam)
		}
		if r.ToWeek < r.FromWeek {
			return nil, fmt.Errorf("exam rule %s: to_week before from_week", r.Exam)
		}
	}

	weeks, err := normalizeWeeks(f.Visits.TargetWeeks)
	if err != nil {
		return nil, err
	}
	p.TargetWeeks = weeks

	if f.Clinic != nil {
		cal, err := f.Clinic.build()
		if err != nil {
			return nil, err
		}
		p.Clinic = cal
	}
	return p, nil
}

// LoadProtocol reads a protocol file. An empty path yields the default.
func LoadProtocol(path string) (*Protocol, error) {
	if path == "" {
		return DefaultProtocol(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol %s: %w", path, err)
	}
	return ParseProtocol(data)
}

// DefaultProtocol returns the embedded protocol. It has no clinic calendar.
// The returned value is shared and must not be modified.
var DefaultProtocol = sync.OnceValue(func() *Protocol {
	p, err := ParseProtocol(defaultProtocolYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded protocol: %v", err))
	}
	return p
})

// DefaultClinicCalendar returns the embedded national holiday calendar with
// Monday to Wednesday clinic days.
func DefaultClinicCalendar() *ClinicCalendar {
	var f clinicFile
	if err := yaml.Unmarshal(defaultClinicCalendarYAML, &f); err != nil {
		panic(fmt.Sprintf("embedded clinic calendar: %v", err))
	}
	cal, err := f.build()
	if err != nil {
		panic(fmt.Sprintf("embedded clinic calendar: %v", err))
	}
	return cal
}

// WithTargetWeeks returns a copy of p using weeks as the visit targets.
func (p *Protocol) WithTargetWeeks(weeks []int) (*Protocol, error) {
	norm, err := normalizeWeeks(weeks)
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.TargetWeeks = norm
	return &cp, nil
}

// WithClinic returns a copy of p that moves visits onto clinic days.
func (p *Protocol) WithClinic(c *ClinicCalendar) *Protocol {
	cp := *p
	cp.Clinic = c
	return &cp
}

// ExamFor returns the exam for a target week. The first matching rule wins.
func (p *Protocol) ExamFor(week int) Exam {
	for _, r := range p.Exams {
		if week >= r.FromWeek && week <= r.ToWeek {
			return r.Exam
		}
	}
	return ExamNone
}

// normalizeWeeks sorts and de-duplicates target weeks.
func normalizeWeeks(weeks []int) ([]int, error) {
	seen := make(map[int]bool, len(weeks))
	out := make([]int, 0, len(weeks))
	for _, w := range weeks {
		if w < 0 || w > MaxTargetWeek {
			return nil, apperror.NewValidationError(fmt.Sprintf("target week %d out of range 0..%d", w, MaxTargetWeek))
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	sort.Ints(out)
	return out, nil
}

type clinicFile struct {
	Name     string   `yaml:"name"`
	Weekdays []string `yaml:"weekdays"`
	Holidays []struct {
		Date string `yaml:"date"`
		Name string `yaml:"name"`
	} `yaml:"holidays"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func (f *clinicFile) build() (*ClinicCalendar, error) {
	days := make([]time.Weekday, 0, len(f.Weekdays))
	for _, name := range f.Weekdays {
		wd, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("clinic calendar: unknown weekday %q", name)
		}
		days = append(days, wd)
	}
	holidays := make([]Holiday, 0, len(f.Holidays))
	for _, h := range f.Holidays {
		d, err := calendar.Parse(h.Date)
		if err != nil {
			return nil, fmt.Errorf("clinic calendar: holiday %q: %w", h.Name, err)
		}
		holidays = append(holidays, Holiday{Date: d, Name: h.Name})
	}
	return NewClinicCalendar(f.Name, days, holidays), nil
}
