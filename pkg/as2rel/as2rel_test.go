// SPDX-License-Identifier: MIT

package as2rel

import (
	"encoding/json"
	"testing"
)

const sampleV4 = `[
	{"asn1": 64500, "asn2": 64496, "paths_count": 120, "peers_count": 40, "rel": -1},
	{"asn1": 64500, "asn2": 64501, "paths_count": 10, "peers_count": 90, "rel": 0},
	{"asn1": 64502, "asn2": 64503, "paths_count": 5, "peers_count": 3, "rel": 1}
]`

func sampleTable(t *testing.T) *Table {
	t.Helper()
	var entries []entry
	if err := json.Unmarshal([]byte(sampleV4), &entries); err != nil {
		t.Fatal(err)
	}
	return &Table{v4: newFamilyTable(entries), v6: newFamilyTable(nil)}
}

func TestRelationshipDecoding(t *testing.T) {
	var rel Relationship

	for _, raw := range []string{"-1", "1"} {
		if err := json.Unmarshal([]byte(raw), &rel); err != nil {
			t.Fatal(err)
		}
		if rel != ProviderCustomer {
			t.Errorf("%s decoded to %s, want pc", raw, rel)
		}
	}
	if err := json.Unmarshal([]byte("0"), &rel); err != nil {
		t.Fatal(err)
	}
	if rel != PeerPeer {
		t.Errorf("0 decoded to %s, want pp", rel)
	}
	if err := json.Unmarshal([]byte("7"), &rel); err == nil {
		t.Error("expected error for out-of-range relationship")
	}
}

func TestLookupPairForward(t *testing.T) {
	table := sampleTable(t)

	v4, v6 := table.LookupPair(64500, 64496)
	if len(v4) != 1 {
		t.Fatalf("got %d v4 observations, want 1", len(v4))
	}
	if v4[0].Rel != ProviderCustomer {
		t.Errorf("got %s, want pc", v4[0].Rel)
	}
	if v4[0].PeersCount != 40 {
		t.Errorf("got peers count %d, want 40", v4[0].PeersCount)
	}
	// 90 is the largest peers_count in the v4 dataset.
	if v4[0].MaxPeerCount != 90 {
		t.Errorf("got max peer count %d, want 90", v4[0].MaxPeerCount)
	}
	if len(v6) != 0 {
		t.Errorf("got %d v6 observations, want 0", len(v6))
	}
}

func TestLookupPairReverse(t *testing.T) {
	table := sampleTable(t)

	// The reverse direction is synthesized with the relationship flipped.
	v4, _ := table.LookupPair(64496, 64500)
	if len(v4) != 1 {
		t.Fatalf("got %d observations, want 1", len(v4))
	}
	if v4[0].Rel != CustomerProvider {
		t.Errorf("got %s, want cp", v4[0].Rel)
	}
}

func TestLookupPairPeerSymmetric(t *testing.T) {
	table := sampleTable(t)

	fwd, _ := table.LookupPair(64500, 64501)
	rev, _ := table.LookupPair(64501, 64500)
	if len(fwd) != 1 || len(rev) != 1 {
		t.Fatalf("got %d/%d observations, want 1 each", len(fwd), len(rev))
	}
	if fwd[0].Rel != PeerPeer || rev[0].Rel != PeerPeer {
		t.Error("peer relationship must stay pp in both directions")
	}
}

func TestLookupPairMiss(t *testing.T) {
	table := sampleTable(t)

	v4, v6 := table.LookupPair(1, 2)
	if len(v4) != 0 || len(v6) != 0 {
		t.Error("unknown pair should return no observations")
	}
}
