// SPDX-License-Identifier: MIT

package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

// peersURL serves the per-collector BGP peer inventory with feed sizes.
const peersURL = "https://api.bgpkit.com/v3/peers/list"

// Full-feed thresholds in prefixes: a peer announcing at least this much
// of a family's table is considered to carry the full global table.
const (
	fullFeedV4Prefixes = 700_000
	fullFeedV6Prefixes = 100_000
)

// Peer is one BGP session feeding a collector.
type Peer struct {
	Date             time.Time  // latest date the peer was seen
	IP               netip.Addr // peer session address
	ASN              uint32
	Collector        string // collector name as the projects publish it
	NumV4Prefixes    uint32
	NumV6Prefixes    uint32
	NumConnectedASNs uint32
}

// FullFeedV4 reports whether the peer carries a full IPv4 table.
func (p Peer) FullFeedV4() bool { return p.NumV4Prefixes >= fullFeedV4Prefixes }

// FullFeedV6 reports whether the peer carries a full IPv6 table.
func (p Peer) FullFeedV6() bool { return p.NumV6Prefixes >= fullFeedV6Prefixes }

// FullFeed reports whether the peer carries a full table in either family.
func (p Peer) FullFeed() bool { return p.FullFeedV4() || p.FullFeedV6() }

type peersData struct {
	Count uint32      `json:"count"`
	Data  []peerEntry `json:"data"`
}

type peerEntry struct {
	Date             string `json:"date"`
	IP               string `json:"ip"`
	Asn              uint32 `json:"asn"`
	Collector        string `json:"collector"`
	NumV4Pfxs        uint32 `json:"num_v4_pfxs"`
	NumV6Pfxs        uint32 `json:"num_v6_pfxs"`
	NumConnectedAsns uint32 `json:"num_connected_asns"`
}

// LoadPeers fetches the collector peer inventory.
func LoadPeers(ctx context.Context, fc *fetch.Client) ([]Peer, error) {
	if fc == nil {
		fc = fetch.Default()
	}
	return loadPeersFrom(ctx, fc, peersURL)
}

func loadPeersFrom(ctx context.Context, fc *fetch.Client, url string) ([]Peer, error) {
	data, err := fc.ReadAll(ctx, url)
	if err != nil {
		return nil, err
	}

	var doc peersData
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: peers list from %s: %v", model.ErrFormat, url, err)
	}

	peers := make([]Peer, 0, len(doc.Data))
	for _, e := range doc.Data {
		date, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: peer date %q: %v", model.ErrFormat, e.Date, err)
		}
		ip, err := netip.ParseAddr(e.IP)
		if err != nil {
			return nil, fmt.Errorf("%w: peer address %q: %v", model.ErrFormat, e.IP, err)
		}
		peers = append(peers, Peer{
			Date:             date,
			IP:               ip,
			ASN:              e.Asn,
			Collector:        e.Collector,
			NumV4Prefixes:    e.NumV4Pfxs,
			NumV6Prefixes:    e.NumV6Pfxs,
			NumConnectedASNs: e.NumConnectedAsns,
		})
	}
	return peers, nil
}

// FilterPeers returns the peers matching the given filters. An empty
// collector matches every collector; fullFeedOnly keeps only peers
// carrying a full table in at least one family.
func FilterPeers(peers []Peer, collector string, fullFeedOnly bool) []Peer {
	var out []Peer
	for _, p := range peers {
		if collector != "" && p.Collector != collector {
			continue
		}
		if fullFeedOnly && !p.FullFeed() {
			continue
		}
		out = append(out, p)
	}
	return out
}
