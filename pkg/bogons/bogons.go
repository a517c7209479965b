// SPDX-License-Identifier: MIT

// Package bogons answers whether a prefix or ASN is a bogon, using the
// IANA special-purpose registries as ground truth:
//   - https://www.iana.org/assignments/iana-ipv4-special-registry/
//   - https://www.iana.org/assignments/iana-ipv6-special-registry/
//   - https://www.iana.org/assignments/iana-as-numbers-special-registry/
package bogons

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

var prefixRegistryURLs = []string{
	"https://www.iana.org/assignments/iana-ipv4-special-registry/iana-ipv4-special-registry-1.csv",
	"https://www.iana.org/assignments/iana-ipv6-special-registry/iana-ipv6-special-registry-1.csv",
}

const asnRegistryURL = "https://www.iana.org/assignments/iana-as-numbers-special-registry/special-purpose-as-numbers.csv"

// PrefixEntry is one special-purpose address block.
type PrefixEntry struct {
	Prefix          netip.Prefix
	Description     string
	RFCURLs         []string
	AllocationDate  time.Time
	TerminationDate time.Time // zero while the allocation is current
	Source          bool
	Destination     bool
	Forwardable     bool
	Global          bool
	Reserved        bool
}

// Matches reports whether p falls inside this block. Families never match
// across.
func (e PrefixEntry) Matches(p netip.Prefix) bool {
	if e.Prefix.Addr().Is4() != p.Addr().Is4() {
		return false
	}
	return e.Prefix.Bits() <= p.Bits() && e.Prefix.Contains(p.Addr())
}

// AsnEntry is one special-purpose AS number range.
type AsnEntry struct {
	First       uint32
	Last        uint32
	Description string
	RFCURLs     []string
}

// Matches reports whether asn falls inside this range.
func (e AsnEntry) Matches(asn uint32) bool {
	return asn >= e.First && asn <= e.Last
}

// Bogons holds both registries.
type Bogons struct {
	Prefixes []PrefixEntry
	Asns     []AsnEntry
}

// Load fetches and parses all three IANA registries.
func Load(ctx context.Context, fc *fetch.Client) (*Bogons, error) {
	if fc == nil {
		fc = fetch.Default()
	}

	b := &Bogons{}
	for _, url := range prefixRegistryURLs {
		data, err := fc.ReadAll(ctx, url)
		if err != nil {
			return nil, err
		}
		entries, err := parsePrefixRegistry(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", url, err)
		}
		b.Prefixes = append(b.Prefixes, entries...)
	}

	data, err := fc.ReadAll(ctx, asnRegistryURL)
	if err != nil {
		return nil, err
	}
	b.Asns, err = parseAsnRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", asnRegistryURL, err)
	}

	log.Printf("INFO: Loaded %d bogon prefixes and %d bogon ASN ranges", len(b.Prefixes), len(b.Asns))
	return b, nil
}

// IsBogonPrefix reports whether prefix falls inside any special-purpose
// block.
func (b *Bogons) IsBogonPrefix(prefix netip.Prefix) bool {
	for _, e := range b.Prefixes {
		if e.Matches(prefix) {
			return true
		}
	}
	return false
}

// IsBogonASN reports whether asn falls inside any special-purpose range.
func (b *Bogons) IsBogonASN(asn uint32) bool {
	for _, e := range b.Asns {
		if e.Matches(asn) {
			return true
		}
	}
	return false
}

// MatchesStr checks a string that is either a prefix or a bare AS number.
// Unparseable input is simply not a bogon.
func (b *Bogons) MatchesStr(s string) bool {
	s = strings.TrimSpace(s)
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return b.IsBogonPrefix(prefix)
	}
	if asn, err := strconv.ParseUint(s, 10, 32); err == nil {
		return b.IsBogonASN(uint32(asn))
	}
	return false
}

// footnoteRe matches registry footnote markers like [1].
var footnoteRe = regexp.MustCompile(`\[\d+\]`)

// rfcRe pulls RFC references like [RFC6598] out of the Reference column.
var rfcRe = regexp.MustCompile(`\[RFC(\d+)\]`)

func stripFootnotes(s string) string {
	return strings.TrimSpace(footnoteRe.ReplaceAllString(s, ""))
}

func rfcLinks(s string) []string {
	var links []string
	for _, m := range rfcRe.FindAllStringSubmatch(s, -1) {
		links = append(links, "https://datatracker.ietf.org/doc/html/rfc"+m[1])
	}
	return links
}

// registryBool parses the registry's True/False/N/A tri-state; only an
// explicit True counts.
func registryBool(s string) bool {
	return strings.EqualFold(stripFootnotes(s), "true")
}

// registryDate parses the registry's YYYY-MM (sometimes YYYY) date columns.
// Empty and "N/A" mean no date.
func registryDate(s string) (time.Time, error) {
	s = stripFootnotes(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", model.ErrFormat, s)
}

type prefixRow struct {
	AddressBlock    string `csv:"Address Block"`
	Name            string `csv:"Name"`
	RFC             string `csv:"RFC"`
	AllocationDate  string `csv:"Allocation Date"`
	TerminationDate string `csv:"Termination Date"`
	Source          string `csv:"Source"`
	Destination     string `csv:"Destination"`
	Forwardable     string `csv:"Forwardable"`
	Global          string `csv:"Globally Reachable"`
	Reserved        string `csv:"Reserved-by-Protocol"`
}

// parsePrefixRegistry decodes one IANA special-registry CSV. The CSV layer
// absorbs quoted commas and multi-line cells; what is left to handle here
// is footnote markers and address cells listing several blocks at once.
func parsePrefixRegistry(data []byte) ([]PrefixEntry, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.LazyQuotes = true
	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: registry CSV: %v", model.ErrFormat, err)
	}

	var rows []prefixRow
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: registry CSV: %v", model.ErrFormat, err)
	}

	var entries []PrefixEntry
	for _, row := range rows {
		allocated, err := registryDate(row.AllocationDate)
		if err != nil {
			return nil, err
		}
		terminated, err := registryDate(row.TerminationDate)
		if err != nil {
			return nil, err
		}

		shared := PrefixEntry{
			Description:     stripFootnotes(row.Name),
			RFCURLs:         rfcLinks(row.RFC),
			AllocationDate:  allocated,
			TerminationDate: terminated,
			Source:          registryBool(row.Source),
			Destination:     registryBool(row.Destination),
			Forwardable:     registryBool(row.Forwardable),
			Global:          registryBool(row.Global),
			Reserved:        registryBool(row.Reserved),
		}

		for _, cell := range splitAddressCell(row.AddressBlock) {
			prefix, err := netip.ParsePrefix(cell)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", model.ErrInvalidPrefix, cell)
			}
			e := shared
			e.Prefix = prefix.Masked()
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// splitAddressCell splits an Address Block cell that may list several
// prefixes ("192.0.0.170/32, 192.0.0.171/32") and carry footnotes.
func splitAddressCell(cell string) []string {
	cell = stripFootnotes(cell)
	return strings.FieldsFunc(cell, func(r rune) bool {
		return r == ',' || r == ' '
	})
}

type asnRow struct {
	Numbers   string `csv:"AS Number(s)"`
	Reason    string `csv:"Reason for Reservation"`
	Reference string `csv:"Reference"`
}

// parseAsnRegistry decodes the special-purpose AS numbers CSV. The first
// column holds either one number or an inclusive "first-last" range.
func parseAsnRegistry(data []byte) ([]AsnEntry, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.LazyQuotes = true
	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: ASN registry CSV: %v", model.ErrFormat, err)
	}

	var rows []asnRow
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: ASN registry CSV: %v", model.ErrFormat, err)
	}

	entries := make([]AsnEntry, 0, len(rows))
	for _, row := range rows {
		first, last, err := parseAsnRange(stripFootnotes(row.Numbers))
		if err != nil {
			return nil, err
		}
		entries = append(entries, AsnEntry{
			First:       first,
			Last:        last,
			Description: stripFootnotes(row.Reason),
			RFCURLs:     rfcLinks(row.Reference),
		})
	}
	return entries, nil
}

func parseAsnRange(s string) (uint32, uint32, error) {
	first, rest, isRange := strings.Cut(s, "-")
	start, err := strconv.ParseUint(strings.TrimSpace(first), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: ASN range %q", model.ErrFormat, s)
	}
	if !isRange {
		return uint32(start), uint32(start), nil
	}
	end, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: ASN range %q", model.ErrFormat, s)
	}
	return uint32(start), uint32(end), nil
}
