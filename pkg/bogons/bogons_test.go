// SPDX-License-Identifier: MIT

package bogons

import (
	"net/netip"
	"testing"
)

const sampleV4Registry = `Address Block,Name,RFC,Allocation Date,Termination Date,Source,Destination,Forwardable,Globally Reachable,Reserved-by-Protocol
0.0.0.0/8,"""This network""","[RFC791], Section 3.2",1981-09,N/A,True,False,False,False,True
10.0.0.0/8,Private-Use,[RFC1918],1996-02,N/A,True,True,True,False,False
"192.0.0.170/32, 192.0.0.171/32",NAT64/DNS64 Discovery,"[RFC8880][RFC7050], Section 2.2",2013-02,N/A,False,False,False,False,True
192.0.2.0/24,Documentation (TEST-NET-1),[RFC5737],2010-01,N/A,False,False,False,False,False
100.64.0.0/10,Shared Address Space [1],[RFC6598],2012-04,N/A,True,True,True,False,False
`

const sampleAsnRegistry = `AS Number(s),Reason for Reservation,Reference
112,Used by the AS112 project,[RFC7534]
23456,AS_TRANS,[RFC6793]
64496-64511,For documentation and sample code,[RFC5398]
65535,Reserved,[RFC7300]
4200000000-4294967294,Reserved for Private Use [1],[RFC6996]
`

func p(t *testing.T, s string) netip.Prefix {
	t.Helper()
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatal(err)
	}
	return prefix
}

func testBogons(t *testing.T) *Bogons {
	t.Helper()
	prefixes, err := parsePrefixRegistry([]byte(sampleV4Registry))
	if err != nil {
		t.Fatalf("parsePrefixRegistry: %v", err)
	}
	asns, err := parseAsnRegistry([]byte(sampleAsnRegistry))
	if err != nil {
		t.Fatalf("parseAsnRegistry: %v", err)
	}
	return &Bogons{Prefixes: prefixes, Asns: asns}
}

func TestParsePrefixRegistry(t *testing.T) {
	b := testBogons(t)

	// 5 rows, one carrying two address blocks.
	if got := len(b.Prefixes); got != 6 {
		t.Fatalf("got %d prefix entries, want 6", got)
	}

	var natDiscovery int
	for _, e := range b.Prefixes {
		if e.Description == "NAT64/DNS64 Discovery" {
			natDiscovery++
		}
	}
	if natDiscovery != 2 {
		t.Errorf("multi-prefix cell should yield 2 entries, got %d", natDiscovery)
	}
}

func TestFootnotesStripped(t *testing.T) {
	b := testBogons(t)

	for _, e := range b.Prefixes {
		if e.Prefix == p(t, "100.64.0.0/10") {
			if e.Description != "Shared Address Space" {
				t.Errorf("footnote not stripped: %q", e.Description)
			}
			return
		}
	}
	t.Fatal("100.64.0.0/10 not parsed")
}

func TestRFCLinks(t *testing.T) {
	b := testBogons(t)

	for _, e := range b.Prefixes {
		if e.Prefix == p(t, "192.0.0.170/32") {
			if len(e.RFCURLs) != 2 {
				t.Fatalf("got %d RFC links, want 2", len(e.RFCURLs))
			}
			want := "https://datatracker.ietf.org/doc/html/rfc8880"
			if e.RFCURLs[0] != want {
				t.Errorf("got %s, want %s", e.RFCURLs[0], want)
			}
			return
		}
	}
	t.Fatal("192.0.0.170/32 not parsed")
}

func TestIsBogonPrefix(t *testing.T) {
	b := testBogons(t)

	cases := []struct {
		prefix string
		want   bool
	}{
		{"10.0.0.0/9", true},   // more specific of a bogon block
		{"10.0.0.0/8", true},   // exact
		{"10.0.0.0/7", false},  // less specific than the block
		{"192.0.2.128/25", true},
		{"8.8.8.0/24", false},
	}
	for _, tc := range cases {
		if got := b.IsBogonPrefix(p(t, tc.prefix)); got != tc.want {
			t.Errorf("IsBogonPrefix(%s) = %v, want %v", tc.prefix, got, tc.want)
		}
	}
}

func TestIsBogonASN(t *testing.T) {
	b := testBogons(t)

	cases := []struct {
		asn  uint32
		want bool
	}{
		{112, true},
		{113, false},
		{64496, true}, // range start
		{64500, true}, // inside range
		{64511, true}, // range end
		{64512, false},
		{65535, true},
		{4200000001, true},
		{3333, false},
	}
	for _, tc := range cases {
		if got := b.IsBogonASN(tc.asn); got != tc.want {
			t.Errorf("IsBogonASN(%d) = %v, want %v", tc.asn, got, tc.want)
		}
	}
}

func TestMatchesStr(t *testing.T) {
	b := testBogons(t)

	if !b.MatchesStr("10.0.0.0/9") {
		t.Error("prefix string should match")
	}
	if !b.MatchesStr("112") {
		t.Error("ASN string should match")
	}
	if b.MatchesStr("8.8.8.0/24") {
		t.Error("clean prefix should not match")
	}
	if b.MatchesStr("not-a-prefix") {
		t.Error("garbage should not match")
	}
}

func TestFamiliesNeverCross(t *testing.T) {
	b := testBogons(t)

	// v6 query against v4-only entries.
	if b.IsBogonPrefix(p(t, "::/8")) {
		t.Error("v6 prefix must not match a v4 block")
	}
}
