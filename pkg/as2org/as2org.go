// SPDX-License-Identifier: MIT

// Package as2org maps AS numbers to their registering organizations using
// CAIDA's AS Organizations dataset. Each AS carries an organization id;
// ASes sharing one belong to the same operator ("siblings").
//
// Dataset: https://www.caida.org/catalog/datasets/as-organizations/
package as2org

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

// latestURL always points at the most recent published dataset file. The
// .gz suffix is handled transparently by the fetch client.
const latestURL = "https://publicdata.caida.org/datasets/as-organizations/latest.as-org2info.jsonl.gz"

// AsInfo is one AS enriched with its organization.
type AsInfo struct {
	ASN         uint32
	Name        string // name registered for the AS itself
	CountryCode string // organization registration country
	OrgID       string
	OrgName     string
	Source      string // RIR or NIR database the entry came from
}

// The dataset is JSONL with two line shapes distinguished by a type
// field: ASN lines and organization lines. Field names vary between
// snake_case and camelCase across dataset generations, so both spellings
// are accepted.
type asLine struct {
	Asn      string `json:"asn"`
	Name     string `json:"name"`
	OrgID    string `json:"org_id"`
	OrgIDAlt string `json:"organizationId"`
	Source   string `json:"source"`
}

func (l asLine) orgID() string {
	if l.OrgID != "" {
		return l.OrgID
	}
	return l.OrgIDAlt
}

type orgLine struct {
	OrgID    string `json:"org_id"`
	OrgIDAlt string `json:"organizationId"`
	Name     string `json:"name"`
	Country  string `json:"country"`
	Source   string `json:"source"`
}

func (l orgLine) orgID() string {
	if l.OrgID != "" {
		return l.OrgID
	}
	return l.OrgIDAlt
}

type asRecord struct {
	name  string
	orgID string
}

type orgRecord struct {
	name    string
	country string
	source  string
}

// Table is the loaded dataset, indexed for AS and organization lookups.
type Table struct {
	as      map[uint32]asRecord
	orgs    map[string]orgRecord
	orgToAs map[string][]uint32
}

// Load fetches the latest CAIDA dataset and builds the table.
func Load(ctx context.Context, fc *fetch.Client) (*Table, error) {
	return LoadFrom(ctx, fc, latestURL)
}

// LoadFrom builds the table from a specific dataset URL.
func LoadFrom(ctx context.Context, fc *fetch.Client, url string) (*Table, error) {
	if fc == nil {
		fc = fetch.Default()
	}
	data, err := fc.ReadAll(ctx, url)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Table, error) {
	t := &Table{
		as:      make(map[uint32]asRecord),
		orgs:    make(map[string]orgRecord),
		orgToAs: make(map[string][]uint32),
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := fixLatin1(strings.TrimSpace(sc.Text()))
		if line == "" {
			continue
		}
		// The type discriminator appears verbatim on every ASN line.
		if strings.Contains(line, `"type":"ASN"`) {
			var rec asLine
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				return nil, fmt.Errorf("%w: AS line %d: %v", model.ErrFormat, lineNum, err)
			}
			asn, err := strconv.ParseUint(rec.Asn, 10, 32)
			if err != nil {
				// The dataset occasionally carries non-numeric AS ids;
				// skip them the way the upstream consumers do.
				continue
			}
			t.as[uint32(asn)] = asRecord{name: rec.Name, orgID: rec.orgID()}
		} else {
			var rec orgLine
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				return nil, fmt.Errorf("%w: organization line %d: %v", model.ErrFormat, lineNum, err)
			}
			t.orgs[rec.orgID()] = orgRecord{name: rec.Name, country: rec.Country, source: rec.Source}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrFormat, err)
	}

	for asn, rec := range t.as {
		t.orgToAs[rec.orgID] = append(t.orgToAs[rec.orgID], asn)
	}
	for _, asns := range t.orgToAs {
		sort.Slice(asns, func(i, j int) bool { return asns[i] < asns[j] })
	}
	return t, nil
}

// Lookup returns the enriched info for an ASN. Both the AS entry and its
// organization must be present in the dataset.
func (t *Table) Lookup(asn uint32) (AsInfo, bool) {
	rec, ok := t.as[asn]
	if !ok {
		return AsInfo{}, false
	}
	org, ok := t.orgs[rec.orgID]
	if !ok {
		return AsInfo{}, false
	}
	return AsInfo{
		ASN:         asn,
		Name:        rec.name,
		CountryCode: org.country,
		OrgID:       rec.orgID,
		OrgName:     org.name,
		Source:      org.source,
	}, true
}

// Siblings returns every AS registered to the same organization as asn,
// including asn itself, in ascending ASN order.
func (t *Table) Siblings(asn uint32) ([]AsInfo, bool) {
	rec, ok := t.as[asn]
	if !ok {
		return nil, false
	}
	var out []AsInfo
	for _, sibling := range t.orgToAs[rec.orgID] {
		if info, ok := t.Lookup(sibling); ok {
			out = append(out, info)
		}
	}
	return out, true
}

// AreSiblings reports whether both ASNs are registered to one organization.
func (t *Table) AreSiblings(asn1, asn2 uint32) bool {
	rec1, ok := t.as[asn1]
	if !ok {
		return false
	}
	rec2, ok := t.as[asn2]
	if !ok {
		return false
	}
	return rec1.orgID == rec2.orgID
}

// Count reports the number of AS entries loaded.
func (t *Table) Count() int {
	return len(t.as)
}

// fixLatin1 repairs organization names whose Latin-1 bytes were decoded as
// UTF-8 upstream, which shows up as 'Ã' followed by a continuation-range
// rune. Anything else passes through untouched.
func fixLatin1(s string) string {
	if !strings.ContainsRune(s, 'Ã') {
		return s
	}
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(runes); i++ {
		if runes[i] == 'Ã' && i+1 < len(runes) && runes[i+1] >= 0x0080 && runes[i+1] <= 0x00BF {
			b.WriteRune(0xC0 + (runes[i+1] - 0x0080))
			i++
			continue
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}
