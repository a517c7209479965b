// SPDX-License-Identifier: MIT

// Package collectors provides metadata about the public MRT route
// collectors run by the RouteViews and RIPE RIS projects, normalized to
// one shape.
package collectors

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"bgpinfo/pkg/fetch"
)

// Project identifies the collector project.
type Project int

const (
	ProjectRouteViews Project = iota
	ProjectRipeRis
)

func (p Project) String() string {
	switch p {
	case ProjectRouteViews:
		return "routeviews"
	case ProjectRipeRis:
		return "riperis"
	}
	return "unknown"
}

// MrtCollector is the normalized metadata for one collector.
type MrtCollector struct {
	Name          string
	Project       Project
	DataURL       string
	ActivatedOn   time.Time
	DeactivatedOn time.Time // zero for active collectors
	Country       string
}

// Active reports whether the collector is still publishing.
func (c MrtCollector) Active() bool {
	return c.DeactivatedOn.IsZero()
}

// Collectors holds the merged collector list.
type Collectors struct {
	all []MrtCollector
}

// Load fetches both projects' collector metadata.
func Load(ctx context.Context, fc *fetch.Client) (*Collectors, error) {
	if fc == nil {
		fc = fetch.Default()
	}

	rv, err := loadRouteViewsFrom(ctx, fc, routeViewsAPIURL)
	if err != nil {
		return nil, err
	}
	ris, err := loadRipeRisFrom(ctx, fc, ripeRisAPIURL)
	if err != nil {
		return nil, err
	}

	all := append(rv, ris...)
	sortByActivation(all)
	log.Printf("INFO: Loaded %d MRT collectors (%d RouteViews, %d RIPE RIS)", len(all), len(rv), len(ris))
	return &Collectors{all: all}, nil
}

func sortByActivation(cs []MrtCollector) {
	sort.Slice(cs, func(i, j int) bool {
		return cs[i].ActivatedOn.Before(cs[j].ActivatedOn)
	})
}

// All returns every collector, sorted by activation time.
func (c *Collectors) All() []MrtCollector {
	out := make([]MrtCollector, len(c.all))
	copy(out, c.all)
	return out
}

// ByName finds a collector by its exact name.
func (c *Collectors) ByName(name string) (MrtCollector, bool) {
	for _, col := range c.all {
		if col.Name == name {
			return col, true
		}
	}
	return MrtCollector{}, false
}

// ByCountry returns the collectors hosted in a country, by 2-letter code.
func (c *Collectors) ByCountry(country string) []MrtCollector {
	var out []MrtCollector
	for _, col := range c.all {
		if strings.EqualFold(col.Country, country) {
			out = append(out, col)
		}
	}
	return out
}

// ByProject returns the collectors of one project.
func (c *Collectors) ByProject(project Project) []MrtCollector {
	var out []MrtCollector
	for _, col := range c.all {
		if col.Project == project {
			out = append(out, col)
		}
	}
	return out
}

const routeViewsAPIURL = "https://api.routeviews.org/collector/?format=json"

// rvCollector is the RouteViews collector API record. Unused fields are
// kept out; the API carries many more.
type rvCollector struct {
	Name      string `json:"name"`
	Country   string `json:"country"`
	Installed string `json:"installed"`
	Removed   string `json:"removed"`
}

type rvData struct {
	Count   int           `json:"count"`
	Results []rvCollector `json:"results"`
}

func loadRouteViewsFrom(ctx context.Context, fc *fetch.Client, url string) ([]MrtCollector, error) {
	var data rvData
	if err := fc.ReadJSON(ctx, url, &data); err != nil {
		return nil, err
	}

	var out []MrtCollector
	for _, rv := range data.Results {
		// The original route-views collector serves telnet only, no MRT
		// archive.
		if rv.Name == "route-views" {
			continue
		}
		activated, err := time.Parse(time.RFC3339, rv.Installed)
		if err != nil {
			return nil, fmt.Errorf("collector %s: installed: %w", rv.Name, err)
		}
		var deactivated time.Time
		if rv.Removed != "" {
			deactivated, err = time.Parse(time.RFC3339, rv.Removed)
			if err != nil {
				return nil, fmt.Errorf("collector %s: removed: %w", rv.Name, err)
			}
		}
		out = append(out, MrtCollector{
			Name:          rv.Name,
			Project:       ProjectRouteViews,
			DataURL:       routeViewsDataURL(rv.Name),
			ActivatedOn:   activated.UTC(),
			DeactivatedOn: deactivated.UTC(),
			Country:       rv.Country,
		})
	}
	return out, nil
}

// routeViewsDataURL maps a collector name to its MRT archive root. The
// oldest collector keeps the legacy flat path.
func routeViewsDataURL(name string) string {
	if name == "route-views2" {
		return "http://archive.routeviews.org/bgpdata"
	}
	return fmt.Sprintf("http://archive.routeviews.org/%s/bgpdata", name)
}

const ripeRisAPIURL = "https://stat.ripe.net/data/rrc-info/data.json"

type risCollector struct {
	Name                 string `json:"name"`
	GeographicalLocation string `json:"geographical_location"`
	ActivatedOn          string `json:"activated_on"`
	DeactivatedOn        string `json:"deactivated_on"`
}

type risData struct {
	Data struct {
		Rrcs []risCollector `json:"rrcs"`
	} `json:"data"`
}

func loadRipeRisFrom(ctx context.Context, fc *fetch.Client, url string) ([]MrtCollector, error) {
	var data risData
	if err := fc.ReadJSON(ctx, url, &data); err != nil {
		return nil, err
	}

	var out []MrtCollector
	for _, ris := range data.Data.Rrcs {
		activated, err := parseRisMonth(ris.ActivatedOn)
		if err != nil {
			return nil, fmt.Errorf("collector %s: activated_on: %w", ris.Name, err)
		}
		var deactivated time.Time
		if ris.DeactivatedOn != "" {
			deactivated, err = parseRisMonth(ris.DeactivatedOn)
			if err != nil {
				return nil, fmt.Errorf("collector %s: deactivated_on: %w", ris.Name, err)
			}
		}

		name := strings.ToLower(ris.Name)
		out = append(out, MrtCollector{
			Name:          name,
			Project:       ProjectRipeRis,
			DataURL:       "https://data.ris.ripe.net/" + name,
			ActivatedOn:   activated,
			DeactivatedOn: deactivated,
			Country:       risCountry(ris.GeographicalLocation),
		})
	}
	return out, nil
}

// parseRisMonth parses the rrc-info "YYYY-MM" timestamps as the first of
// the month, UTC.
func parseRisMonth(s string) (time.Time, error) {
	return time.Parse("2006-01", s)
}

// risCountry extracts the country from a "City, CC" location string.
func risCountry(location string) string {
	_, country, ok := strings.Cut(location, ",")
	if !ok {
		return ""
	}
	return strings.TrimSpace(country)
}
