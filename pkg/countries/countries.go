// SPDX-License-Identifier: MIT

// Package countries provides country lookups backed by the GeoNames
// country table (https://download.geonames.org/export/dump/countryInfo.txt).
package countries

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

const dataURL = "https://download.geonames.org/export/dump/countryInfo.txt"

// geonamesColumns is the fixed width of the tab-separated table.
const geonamesColumns = 19

// Country is one row of the GeoNames table.
type Country struct {
	Code      string // ISO 2-letter code
	Code3     string // ISO 3-letter code
	Name      string
	Capital   string
	Continent string
	TLD       string // empty when GeoNames has none
	Neighbors []string
}

// Countries indexes the table by both ISO codes.
type Countries struct {
	byCode  map[string]Country
	byCode3 map[string]Country
}

// Load fetches and parses the GeoNames table.
func Load(ctx context.Context, fc *fetch.Client) (*Countries, error) {
	if fc == nil {
		fc = fetch.Default()
	}
	data, err := fc.ReadAll(ctx, dataURL)
	if err != nil {
		return nil, err
	}
	c, err := parse(data)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Loaded %d countries from GeoNames", len(c.byCode))
	return c, nil
}

// parse reads the tab-separated table, skipping comment and blank lines.
// A row with the wrong column count fails the whole table.
func parse(data []byte) (*Countries, error) {
	c := &Countries{
		byCode:  make(map[string]Country),
		byCode3: make(map[string]Country),
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != geonamesColumns {
			return nil, fmt.Errorf("%w: country row has %d columns: %q", model.ErrFormat, len(fields), line)
		}

		country := Country{
			Code:      fields[0],
			Code3:     fields[1],
			Name:      fields[4],
			Capital:   fields[5],
			Continent: fields[8],
			TLD:       fields[9],
		}
		if fields[17] != "" {
			country.Neighbors = strings.Split(fields[17], ",")
		}

		c.byCode[country.Code] = country
		c.byCode3[country.Code3] = country
	}
	return c, nil
}

// LookupByCode finds a country by its ISO 2-letter code, case-insensitive.
func (c *Countries) LookupByCode(code string) (Country, bool) {
	country, ok := c.byCode[strings.ToUpper(code)]
	return country, ok
}

// LookupByCode3 finds a country by its ISO 3-letter code, case-insensitive.
func (c *Countries) LookupByCode3(code string) (Country, bool) {
	country, ok := c.byCode3[strings.ToUpper(code)]
	return country, ok
}

// LookupByName returns all countries whose name contains the given string,
// case-insensitive, sorted by code.
func (c *Countries) LookupByName(name string) []Country {
	needle := strings.ToLower(name)
	var out []Country
	for _, country := range c.byCode {
		if strings.Contains(strings.ToLower(country.Name), needle) {
			out = append(out, country)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// All returns every country, sorted by code.
func (c *Countries) All() []Country {
	out := make([]Country, 0, len(c.byCode))
	for _, country := range c.byCode {
		out = append(out, country)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Count returns the number of countries in the table.
func (c *Countries) Count() int {
	return len(c.byCode)
}
