// SPDX-License-Identifier: MIT

// Package as2rel serves AS-level relationship data from the BGPKIT
// as2rel datasets (https://data.bgpkit.com/as2rel/), one per address
// family.
package as2rel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

const (
	v4URL = "https://data.bgpkit.com/as2rel/as2rel-v4-latest.json.bz2"
	v6URL = "https://data.bgpkit.com/as2rel/as2rel-v6-latest.json.bz2"
)

// Relationship is the business relationship between two ASes, directed
// from the first AS to the second.
type Relationship int

const (
	ProviderCustomer Relationship = iota
	CustomerProvider
	PeerPeer
)

func (r Relationship) String() string {
	switch r {
	case ProviderCustomer:
		return "pc"
	case CustomerProvider:
		return "cp"
	case PeerPeer:
		return "pp"
	}
	return "unknown"
}

// reversed flips the direction of the relationship.
func (r Relationship) reversed() Relationship {
	switch r {
	case ProviderCustomer:
		return CustomerProvider
	case CustomerProvider:
		return ProviderCustomer
	}
	return PeerPeer
}

// UnmarshalJSON decodes the dataset's integer encoding: -1 and 1 both mean
// provider-to-customer in file order, 0 means peer.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	var n int8
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: relationship: %v", model.ErrFormat, err)
	}
	switch n {
	case -1, 1:
		*r = ProviderCustomer
	case 0:
		*r = PeerPeer
	default:
		return fmt.Errorf("%w: relationship value %d", model.ErrFormat, n)
	}
	return nil
}

// entry is one dataset record.
type entry struct {
	Asn1       uint32       `json:"asn1"`
	Asn2       uint32       `json:"asn2"`
	PathsCount uint32       `json:"paths_count"`
	PeersCount uint32       `json:"peers_count"`
	Rel        Relationship `json:"rel"`
}

// Observation is one relationship as seen from a queried AS pair.
// MaxPeerCount is the family-wide maximum, usable as a normalization
// denominator for how widely the relationship is observed.
type Observation struct {
	Rel          Relationship
	PeersCount   uint32
	MaxPeerCount uint32
}

type pair struct {
	a, b uint32
}

// familyTable holds one address family's relationships, indexed in both
// directions.
type familyTable struct {
	rels         map[pair][]entry
	maxPeerCount uint32
}

func newFamilyTable(entries []entry) *familyTable {
	t := &familyTable{rels: make(map[pair][]entry, len(entries)*2)}
	for _, e := range entries {
		rev := entry{
			Asn1:       e.Asn2,
			Asn2:       e.Asn1,
			PathsCount: e.PathsCount,
			PeersCount: e.PeersCount,
			Rel:        e.Rel.reversed(),
		}
		t.add(pair{e.Asn1, e.Asn2}, e)
		t.add(pair{e.Asn2, e.Asn1}, rev)
		if e.PeersCount > t.maxPeerCount {
			t.maxPeerCount = e.PeersCount
		}
	}
	return t
}

// add appends unless an identical observation is already present, so a
// symmetric pair in the input does not double up.
func (t *familyTable) add(key pair, e entry) {
	for _, existing := range t.rels[key] {
		if existing.Asn1 == e.Asn1 && existing.Asn2 == e.Asn2 && existing.Rel == e.Rel {
			return
		}
	}
	t.rels[key] = append(t.rels[key], e)
}

func (t *familyTable) lookup(asn1, asn2 uint32) []Observation {
	entries := t.rels[pair{asn1, asn2}]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Observation, 0, len(entries))
	for _, e := range entries {
		out = append(out, Observation{
			Rel:          e.Rel,
			PeersCount:   e.PeersCount,
			MaxPeerCount: t.maxPeerCount,
		})
	}
	return out
}

// Table holds both address families' relationship data.
type Table struct {
	v4 *familyTable
	v6 *familyTable
}

// Load fetches and indexes both family datasets.
func Load(ctx context.Context, fc *fetch.Client) (*Table, error) {
	if fc == nil {
		fc = fetch.Default()
	}

	v4, err := loadFamily(ctx, fc, v4URL)
	if err != nil {
		return nil, err
	}
	v6, err := loadFamily(ctx, fc, v6URL)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Loaded %d IPv4 and %d IPv6 AS relationship pairs", len(v4.rels), len(v6.rels))
	return &Table{v4: v4, v6: v6}, nil
}

func loadFamily(ctx context.Context, fc *fetch.Client, url string) (*familyTable, error) {
	log.Printf("INFO: Loading AS relationships from %s", url)
	data, err := fc.ReadAll(ctx, url)
	if err != nil {
		return nil, err
	}
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: as2rel JSON from %s: %v", model.ErrFormat, url, err)
	}
	return newFamilyTable(entries), nil
}

// LookupPair returns the observed relationships between two ASes, per
// address family, directed from asn1 to asn2. Either slice may be empty.
func (t *Table) LookupPair(asn1, asn2 uint32) (v4, v6 []Observation) {
	return t.v4.lookup(asn1, asn2), t.v6.lookup(asn1, asn2)
}
