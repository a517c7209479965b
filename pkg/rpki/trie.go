// SPDX-License-Identifier: MIT

// Package rpki indexes Route Origin Authorizations and AS Provider
// Authorizations and answers origin-validation queries against them.
//
// A Trie is populated from one of three sources: the Cloudflare live feed,
// RIPE NCC historical archives, or RPKIviews collector snapshots. All three
// publish the rpki-client JSON format, with per-source field-encoding
// quirks absorbed by the normalizer in clientdata.go.
package rpki

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

// Trie stores ROA entries indexed by their covering prefix, plus ASPA
// records keyed by customer ASN. A loaded Trie is safe for concurrent
// readers; Reload takes the write path and fully replaces the contents.
type Trie struct {
	mu    sync.RWMutex
	roas  map[netip.Prefix][]model.Roa
	aspas map[uint32]model.Aspa

	// date is the calendar day this trie was loaded for, zero for live
	// data. Reload uses it to pick the original source again.
	date   time.Time
	client *fetch.Client
}

// NewTrie creates an empty trie for live data.
func NewTrie() *Trie {
	return newTrie(time.Time{}, nil)
}

// NewTrieAt creates an empty trie tagged with a historical calendar date.
// Callers restoring cached snapshots use it to rebuild a dated trie without
// going back to the source.
func NewTrieAt(date time.Time) *Trie {
	return newTrie(date, nil)
}

func newTrie(date time.Time, client *fetch.Client) *Trie {
	return &Trie{
		roas:   make(map[netip.Prefix][]model.Roa),
		aspas:  make(map[uint32]model.Aspa),
		date:   date,
		client: client,
	}
}

// InsertRoa adds a ROA under its covering prefix. Inserting an entry whose
// (prefix, asn, max_length) triplet is already present is a silent no-op,
// so repeated loads of overlapping sources stay idempotent. Reports whether
// the prefix key was new.
func (t *Trie) InsertRoa(roa model.Roa) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(roa)
}

func (t *Trie) insertLocked(roa model.Roa) bool {
	key := roa.Prefix.Masked()
	roa.Prefix = key

	existing, ok := t.roas[key]
	if !ok {
		t.roas[key] = []model.Roa{roa}
		return true
	}
	for _, e := range existing {
		if e.SameAuthorization(roa) {
			return false
		}
	}
	t.roas[key] = append(existing, roa)
	return false
}

// InsertRoas adds multiple ROAs.
func (t *Trie) InsertRoas(roas []model.Roa) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, roa := range roas {
		t.insertLocked(roa)
	}
}

// InsertAspa stores an ASPA record, replacing any earlier record for the
// same customer ASN.
func (t *Trie) InsertAspa(aspa model.Aspa) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aspas[aspa.CustomerASN] = aspa
}

// LookupByPrefix returns copies of all stored ROAs whose prefix covers the
// queried prefix, i.e. is identical to or a less-specific aggregate of it.
// Entries whose max length is below the queried length are included; they
// still count as existing authorizations for the prefix space.
func (t *Trie) LookupByPrefix(prefix netip.Prefix) []model.Roa {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.coveringLocked(prefix)
}

// coveringLocked walks every aggregation level from the default route down
// to the queried length. All covering entries are considered, not only the
// most specific match.
func (t *Trie) coveringLocked(prefix netip.Prefix) []model.Roa {
	prefix = prefix.Masked()

	var matches []model.Roa
	for bits := 0; bits <= prefix.Bits(); bits++ {
		key := netip.PrefixFrom(prefix.Addr(), bits).Masked()
		matches = append(matches, t.roas[key]...)
	}
	return matches
}

// Validate reports whether asn is authorized to originate prefix.
//
//   - ValidationValid: a covering ROA authorizes this ASN at this length
//   - ValidationInvalid: covering ROAs exist, but none for this
//     origin/length combination
//   - ValidationUnknown: no covering ROA at all
func (t *Trie) Validate(prefix netip.Prefix, asn uint32) model.Validation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	matches := t.coveringLocked(prefix)
	if len(matches) == 0 {
		return model.ValidationUnknown
	}
	for _, roa := range matches {
		if roa.ASN == asn && int(roa.MaxLength) >= prefix.Bits() {
			return model.ValidationValid
		}
	}
	return model.ValidationInvalid
}

// ValidateAt is Validate with expiry awareness: a covering ROA whose
// validity window does not contain at is treated as absent for this call.
// An expired authorization therefore degrades the answer toward Unknown,
// never toward Invalid. A zero at means now.
func (t *Trie) ValidateAt(prefix netip.Prefix, asn uint32, at time.Time) model.Validation {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	live := 0
	for _, roa := range t.coveringLocked(prefix) {
		if !roa.ValidAt(at) {
			continue
		}
		live++
		if roa.ASN == asn && int(roa.MaxLength) >= prefix.Bits() {
			return model.ValidationValid
		}
	}
	if live == 0 {
		return model.ValidationUnknown
	}
	return model.ValidationInvalid
}

// AspaLookup returns the ASPA record for a customer ASN, if one is loaded.
func (t *Trie) AspaLookup(customerASN uint32) (model.Aspa, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	aspa, ok := t.aspas[customerASN]
	if !ok {
		return model.Aspa{}, false
	}
	// Copy the provider list so callers cannot mutate stored state.
	aspa.Providers = append([]uint32(nil), aspa.Providers...)
	return aspa, true
}

// RoaCount returns the total number of stored ROA entries.
func (t *Trie) RoaCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, entries := range t.roas {
		n += len(entries)
	}
	return n
}

// AspaCount returns the number of stored ASPA records.
func (t *Trie) AspaCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.aspas)
}

// IsLoaded reports whether any data has been loaded.
func (t *Trie) IsLoaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.roas) > 0 || len(t.aspas) > 0
}

// Date returns the calendar day this trie was loaded for, zero for live data.
func (t *Trie) Date() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.date
}

// AllRoas returns a copy of every stored ROA entry, in no particular order.
func (t *Trie) AllRoas() []model.Roa {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Roa, 0, len(t.roas))
	for _, entries := range t.roas {
		out = append(out, entries...)
	}
	return out
}

// AllAspas returns a copy of every stored ASPA record.
func (t *Trie) AllAspas() []model.Aspa {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Aspa, 0, len(t.aspas))
	for _, aspa := range t.aspas {
		aspa.Providers = append([]uint32(nil), aspa.Providers...)
		out = append(out, aspa)
	}
	return out
}

// Reload discards the trie's contents and rebuilds them from the original
// source: the RIPE historical archive for the trie's date, or the
// Cloudflare live feed for a live trie. Reload must not run concurrently
// with another load into the same trie.
func (t *Trie) Reload(ctx context.Context) error {
	t.mu.RLock()
	date := t.date
	client := t.client
	t.mu.RUnlock()

	var fresh *Trie
	var err error
	if !date.IsZero() {
		fresh, err = FromRipeHistorical(ctx, client, date)
	} else {
		fresh, err = FromCloudflare(ctx, client)
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.roas = fresh.roas
	t.aspas = fresh.aspas
	t.mu.Unlock()
	return nil
}
