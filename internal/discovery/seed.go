package discovery

import (
	"context"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dialer-engine/internal/model"
)

// SeedSource serves eligibility from a YAML fixture, for local runs and
// environments without Salesforce access.
type SeedSource struct {
	people []Person
	byID   map[string]Person
}

type seedFile struct {
	People []seedPerson `yaml:"people"`
}

type seedPerson struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
	Pending  int    `yaml:"pending"`
	Reason   string `yaml:"reason"`
}

// LoadSeed reads a seed fixture from path.
func LoadSeed(path string) (*SeedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: read seed %s", path)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "discovery: parse seed %s", path)
	}

	return newSeedSource(f.People)
}

func newSeedSource(entries []seedPerson) (*SeedSource, error) {
	s := &SeedSource{byID: make(map[string]Person, len(entries))}
	for _, e := range entries {
		if e.ID == "" {
			return nil, eris.New("discovery: seed entry missing id")
		}
		cat, err := model.ParseCategory(e.Category)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: seed entry %s", e.ID)
		}
		reason := e.Reason
		if reason == "" {
			reason = reasonFor(cat, e.Pending)
		}
		p := Person{ID: e.ID, Category: cat, Reason: reason}
		if _, dup := s.byID[p.ID]; dup {
			return nil, eris.Errorf("discovery: duplicate seed entry %s", p.ID)
		}
		s.byID[p.ID] = p
		s.people = append(s.people, p)
	}
	sort.Slice(s.people, func(i, j int) bool { return s.people[i].ID < s.people[j].ID })
	return s, nil
}

// ListEligible implements EligibilitySource over the in-memory fixture.
func (s *SeedSource) ListEligible(_ context.Context, category model.Category, afterID string, limit int) ([]Person, error) {
	var out []Person
	for _, p := range s.people {
		if p.Category != category || p.ID <= afterID {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Recheck implements EligibilitySource over the in-memory fixture.
func (s *SeedSource) Recheck(_ context.Context, ids []string) (map[string]Person, error) {
	out := make(map[string]Person)
	for _, id := range ids {
		if p, ok := s.byID[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
