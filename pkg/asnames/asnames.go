// SPDX-License-Identifier: MIT

// Package asnames maps AS numbers to their registered name and country,
// using the RIPE NCC table at https://ftp.ripe.net/ripe/asnames/asn.txt.
package asnames

import (
	"context"
	"log"
	"strconv"
	"strings"

	"bgpinfo/pkg/fetch"
)

const dataURL = "https://ftp.ripe.net/ripe/asnames/asn.txt"

// AsName is one table entry.
type AsName struct {
	ASN     uint32
	Name    string
	Country string // ISO 2-letter code, "ZZ" for unassigned
}

// Table indexes AS names by number.
type Table struct {
	names map[uint32]AsName
}

// Load fetches and parses the RIPE AS names table.
func Load(ctx context.Context, fc *fetch.Client) (*Table, error) {
	if fc == nil {
		fc = fetch.Default()
	}
	data, err := fc.ReadAll(ctx, dataURL)
	if err != nil {
		return nil, err
	}
	t := parse(data)
	log.Printf("INFO: Loaded %d AS names", len(t.names))
	return t, nil
}

// parse reads "<asn> <name>, <country>" lines. The name itself may contain
// commas, so the country is split off at the last ", ". Lines that do not
// fit the shape are skipped; the table has no strictness guarantee.
func parse(data []byte) *Table {
	t := &Table{names: make(map[uint32]AsName)}
	for _, line := range strings.Split(string(data), "\n") {
		asnStr, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		cut := strings.LastIndex(rest, ", ")
		if cut < 0 {
			continue
		}
		asn, err := strconv.ParseUint(asnStr, 10, 32)
		if err != nil {
			continue
		}
		t.names[uint32(asn)] = AsName{
			ASN:     uint32(asn),
			Name:    rest[:cut],
			Country: strings.TrimSpace(rest[cut+2:]),
		}
	}
	return t
}

// Lookup finds the entry for an AS number.
func (t *Table) Lookup(asn uint32) (AsName, bool) {
	name, ok := t.names[asn]
	return name, ok
}

// All returns the full table keyed by ASN.
func (t *Table) All() map[uint32]AsName {
	out := make(map[uint32]AsName, len(t.names))
	for asn, name := range t.names {
		out[asn] = name
	}
	return out
}

// Count returns the number of entries.
func (t *Table) Count() int {
	return len(t.names)
}
