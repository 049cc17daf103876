package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// County describes one jurisdiction the scrapers cover.
type County struct {
	Slug          string `yaml:"slug" json:"slug"`
	Name          string `yaml:"name" json:"name"`
	JailLocation  string `yaml:"jail_location" json:"jail_location,omitempty"`
	CourtLocation string `yaml:"court_location" json:"court_location,omitempty"`
	SearchURL     string `yaml:"search_url" json:"search_url,omitempty"`
}

// CountyRegistry is the fixed set of known jurisdictions. The validator
// rejects records whose county is not in the registry.
type CountyRegistry struct {
	byKey map[string]County
	count int
}

// NewCountyRegistry builds a registry from an explicit county list.
func NewCountyRegistry(counties []County) *CountyRegistry {
	byKey := make(map[string]County, len(counties))
	for _, c := range counties {
		byKey[NormalizeKeyPart(c.Slug)] = c
		byKey[NormalizeKeyPart(c.Name)] = c
	}
	return &CountyRegistry{byKey: byKey, count: len(counties)}
}

// LoadCountyRegistry reads a yaml county list from path.
func LoadCountyRegistry(path string) (*CountyRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "county: read %s", path)
	}
	var file struct {
		Counties []County `yaml:"counties"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "county: parse %s", path)
	}
	if len(file.Counties) == 0 {
		return nil, eris.Errorf("county: no counties in %s", path)
	}
	return NewCountyRegistry(file.Counties), nil
}

// Lookup resolves a scraper-supplied county string (slug or display name).
func (r *CountyRegistry) Lookup(s string) (County, bool) {
	c, ok := r.byKey[NormalizeKeyPart(s)]
	return c, ok
}

// Size returns the number of counties in the registry.
func (r *CountyRegistry) Size() int {
	return r.count
}

// DefaultCounties is the built-in jurisdiction set, used when no registry
// file is configured.
func DefaultCounties() []County {
	names := []string{
		"Lee", "Collier", "Charlotte", "Hendry", "Glades", "Sarasota",
		"DeSoto", "Manatee", "Palm Beach", "Seminole", "Orange", "Osceola",
		"Pinellas", "Broward", "Hillsborough", "Miami-Dade",
	}
	counties := make([]County, 0, len(names))
	for _, n := range names {
		counties = append(counties, County{Slug: n, Name: n + " County"})
	}
	return counties
}
