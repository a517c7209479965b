// SPDX-License-Identifier: MIT

package rpki

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"bgpinfo/pkg/model"
)

// clientData is the rpki-client JSON output shape shared by all three data
// sources. The sources disagree on field encodings: Cloudflare emits ASNs
// as numbers and ASPA customers under "customer_asid", the RIPE archives
// emit "AS12345" strings and use "customer". The flex types below absorb
// that variance so the rest of the package only ever sees canonical
// records.
type clientData struct {
	Metadata   clientMetadata    `json:"metadata"`
	Roas       []clientRoa       `json:"roas"`
	Aspas      []clientAspa      `json:"aspas"`
	BgpsecKeys []clientBgpsecKey `json:"bgpsec_keys"`
}

type clientMetadata struct {
	Buildmachine  string `json:"buildmachine"`
	Buildtime     string `json:"buildtime"`
	Generated     int64  `json:"generated"`
	GeneratedTime string `json:"generatedTime"`
	Roas          int    `json:"roas"`
	Aspas         int    `json:"aspas"`
	Vrps          int    `json:"vrps"`
	UniqueVrps    int    `json:"uniquevrps"`
}

type clientRoa struct {
	Prefix    string  `json:"prefix"`
	MaxLength uint8   `json:"maxLength"`
	ASN       flexASN `json:"asn"`
	TA        string  `json:"ta"`
	Expires   int64   `json:"expires"`
}

type clientAspa struct {
	// Customer ASN appears under either key depending on the source;
	// customer_asid wins when both are present.
	CustomerASID *flexASN    `json:"customer_asid"`
	Customer     *flexASN    `json:"customer"`
	Expires      int64       `json:"expires"`
	Providers    flexASNList `json:"providers"`
}

type clientBgpsecKey struct {
	ASN     flexASN `json:"asn"`
	SKI     string  `json:"ski"`
	Pubkey  string  `json:"pubkey"`
	TA      string  `json:"ta"`
	Expires int64   `json:"expires"`
}

// flexASN decodes an AS number encoded either as a bare integer or as a
// string with an "AS"/"as" marker prefix.
type flexASN uint32

func (a *flexASN) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		trimmed := strings.TrimPrefix(strings.TrimPrefix(str, "AS"), "as")
		n, err := strconv.ParseUint(trimmed, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: ASN %q", model.ErrFormat, str)
		}
		*a = flexASN(n)
		return nil
	}

	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: ASN %s", model.ErrFormat, s)
	}
	*a = flexASN(n)
	return nil
}

// flexASNList decodes a provider list of either integers or numeric
// strings. A single bad element fails the whole list; partial provider
// sets are never produced.
type flexASNList []uint32

func (l *flexASNList) UnmarshalJSON(data []byte) error {
	var raw []flexASN
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]uint32, len(raw))
	for i, a := range raw {
		out[i] = uint32(a)
	}
	*l = out
	return nil
}

// customerASN resolves the two alternative customer key spellings,
// first-present-wins.
func (a clientAspa) customerASN() (uint32, error) {
	switch {
	case a.CustomerASID != nil:
		return uint32(*a.CustomerASID), nil
	case a.Customer != nil:
		return uint32(*a.Customer), nil
	default:
		return 0, fmt.Errorf("%w: ASPA record missing customer ASN", model.ErrFormat)
	}
}

// parseClientData decodes one rpki-client JSON document. Any malformed
// record fails the whole document; the loader treats documents as
// all-or-nothing.
func parseClientData(data []byte) (*clientData, error) {
	var doc clientData
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: rpki-client JSON: %v", model.ErrFormat, err)
	}
	return &doc, nil
}

// expiryTime converts a Unix timestamp to a validity bound; 0 means none.
func expiryTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// records converts the document into canonical ROA and ASPA values.
func (d *clientData) records() ([]model.Roa, []model.Aspa, error) {
	roas := make([]model.Roa, 0, len(d.Roas))
	for _, r := range d.Roas {
		prefix, err := netip.ParsePrefix(r.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %q", model.ErrInvalidPrefix, r.Prefix)
		}
		roas = append(roas, model.Roa{
			Prefix:    prefix.Masked(),
			ASN:       uint32(r.ASN),
			MaxLength: r.MaxLength,
			RIR:       model.ParseRir(r.TA),
			NotAfter:  expiryTime(r.Expires),
		})
	}

	aspas := make([]model.Aspa, 0, len(d.Aspas))
	for _, a := range d.Aspas {
		customer, err := a.customerASN()
		if err != nil {
			return nil, nil, err
		}
		aspas = append(aspas, model.Aspa{
			CustomerASN: customer,
			Providers:   []uint32(a.Providers),
			Expires:     expiryTime(a.Expires),
		})
	}

	return roas, aspas, nil
}

// merge inserts converted records into the trie. ROA duplicates collapse on
// the (prefix, asn, max_length) triplet; for ASPAs the first record per
// customer within this merge wins, while replacing whatever an earlier
// merge stored for that customer.
func (t *Trie) merge(roas []model.Roa, aspas []model.Aspa) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, roa := range roas {
		t.insertLocked(roa)
	}

	seen := make(map[uint32]bool, len(aspas))
	for _, aspa := range aspas {
		if seen[aspa.CustomerASN] {
			continue
		}
		seen[aspa.CustomerASN] = true
		t.aspas[aspa.CustomerASN] = aspa
	}
}

// mergeClientData converts and merges one parsed document.
func (t *Trie) mergeClientData(doc *clientData) error {
	roas, aspas, err := doc.records()
	if err != nil {
		return err
	}
	t.merge(roas, aspas)
	return nil
}
