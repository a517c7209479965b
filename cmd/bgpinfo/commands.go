// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/oschwald/geoip2-golang"

	"bgpinfo/pkg/as2org"
	"bgpinfo/pkg/as2rel"
	"bgpinfo/pkg/asnames"
	"bgpinfo/pkg/bogons"
	"bgpinfo/pkg/collectors"
	"bgpinfo/pkg/commons"
	"bgpinfo/pkg/countries"
	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
	"bgpinfo/pkg/rpki"
)

func newFetchClient() *fetch.Client {
	return fetch.NewClient(os.Getenv("BGPINFO_USER_AGENT"), 4)
}

// newCommons builds a facade handle honoring the cache environment.
func newCommons() (*commons.Commons, error) {
	return commons.New(commons.Config{
		Client:   newFetchClient(),
		CacheDir: os.Getenv("BGPINFO_CACHE_DIR"),
	})
}

// loadRpki loads either the live feed or a historical snapshot into the
// facade, depending on the -date and -source flags.
func loadRpki(ctx context.Context, c *commons.Commons, dateStr, sourceStr string) error {
	if dateStr == "" {
		return c.LoadRPKI(ctx)
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return fmt.Errorf("invalid date %q, want YYYY-MM-DD", dateStr)
	}

	source := rpki.RipeSource()
	if sourceStr != "" && sourceStr != "ripe" {
		collector, err := rpki.ParseCollector(sourceStr)
		if err != nil {
			return err
		}
		source = rpki.RpkiViewsSource(collector)
	}
	return c.LoadRPKIHistorical(ctx, source, date)
}

func parseASN(s string) (uint32, error) {
	asn, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ASN %q", s)
	}
	return uint32(asn), nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runValidate(ctx context.Context, args []string) error {
	fs := newFlagSet("validate")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	dateStr := fs.String("date", "", "Historical date (YYYY-MM-DD); empty for live data")
	sourceStr := fs.String("source", "ripe", "Historical source: ripe or an RPKIviews collector name")
	atStr := fs.String("at", "", "Apply validity windows at this time (RFC 3339)")
	mmdbPath := fs.String("mmdb", "", "MaxMind City database for country enrichment")
	fs.Parse(args)

	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	prefixStr := fs.Arg(0)
	asn, err := parseASN(fs.Arg(1))
	if err != nil {
		return err
	}

	c, err := newCommons()
	if err != nil {
		return err
	}
	defer c.Close()
	if err := loadRpki(ctx, c, *dateStr, *sourceStr); err != nil {
		return err
	}

	var state model.Validation
	if *atStr != "" {
		at, err := time.Parse(time.RFC3339, *atStr)
		if err != nil {
			return fmt.Errorf("invalid -at time %q, want RFC 3339", *atStr)
		}
		state, err = c.RpkiValidateAt(prefixStr, asn, at)
		if err != nil {
			return err
		}
	} else {
		state, err = c.RpkiValidate(prefixStr, asn)
		if err != nil {
			return err
		}
	}

	country := geoipCountry(*mmdbPath, prefixStr)

	if *jsonOut {
		out := map[string]any{
			"prefix":     prefixStr,
			"asn":        asn,
			"validation": state.String(),
		}
		if country != "" {
			out["country"] = country
		}
		return printJSON(out)
	}
	fmt.Printf("Prefix:      %s\n", prefixStr)
	fmt.Printf("Origin:      AS%d\n", asn)
	fmt.Printf("Validation:  %s\n", state)
	if country != "" {
		fmt.Printf("Country:     %s\n", country)
	}
	return nil
}

func runLookup(ctx context.Context, args []string) error {
	fs := newFlagSet("lookup")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	dateStr := fs.String("date", "", "Historical date (YYYY-MM-DD); empty for live data")
	sourceStr := fs.String("source", "ripe", "Historical source: ripe or an RPKIviews collector name")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	c, err := newCommons()
	if err != nil {
		return err
	}
	defer c.Close()
	if err := loadRpki(ctx, c, *dateStr, *sourceStr); err != nil {
		return err
	}

	matches, err := c.RpkiLookupByPrefix(fs.Arg(0))
	if err != nil {
		return err
	}

	if *jsonOut {
		type roaOut struct {
			Prefix    string `json:"prefix"`
			ASN       uint32 `json:"asn"`
			MaxLength uint8  `json:"max_length"`
			RIR       string `json:"rir"`
		}
		out := make([]roaOut, 0, len(matches))
		for _, roa := range matches {
			out = append(out, roaOut{
				Prefix:    roa.Prefix.String(),
				ASN:       roa.ASN,
				MaxLength: roa.MaxLength,
				RIR:       roa.RIR.String(),
			})
		}
		return printJSON(out)
	}
	if len(matches) == 0 {
		fmt.Println("No covering ROA entries")
		return nil
	}
	for _, roa := range matches {
		fmt.Printf("%-20s AS%-10d maxLength %-3d %s\n", roa.Prefix, roa.ASN, roa.MaxLength, roa.RIR)
	}
	return nil
}

func runAspa(ctx context.Context, args []string) error {
	fs := newFlagSet("aspa")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	dateStr := fs.String("date", "", "Historical date (YYYY-MM-DD); empty for live data")
	sourceStr := fs.String("source", "ripe", "Historical source: ripe or an RPKIviews collector name")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	asn, err := parseASN(fs.Arg(0))
	if err != nil {
		return err
	}

	c, err := newCommons()
	if err != nil {
		return err
	}
	defer c.Close()
	if err := loadRpki(ctx, c, *dateStr, *sourceStr); err != nil {
		return err
	}

	aspa, ok, err := c.RpkiAspa(asn)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("No ASPA record for AS%d\n", asn)
		return nil
	}
	if *jsonOut {
		return printJSON(map[string]any{
			"customer_asn": aspa.CustomerASN,
			"providers":    aspa.Providers,
		})
	}
	fmt.Printf("Customer:    AS%d\n", aspa.CustomerASN)
	fmt.Printf("Providers:  ")
	for _, p := range aspa.Providers {
		fmt.Printf(" AS%d", p)
	}
	fmt.Println()
	return nil
}

func runBogon(ctx context.Context, args []string) error {
	fs := newFlagSet("bogon")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	query := fs.Arg(0)

	b, err := bogons.Load(ctx, newFetchClient())
	if err != nil {
		return err
	}

	match := b.MatchesStr(query)
	if *jsonOut {
		return printJSON(map[string]any{"query": query, "bogon": match})
	}
	if match {
		fmt.Printf("%s is a bogon\n", query)
	} else {
		fmt.Printf("%s is not a bogon\n", query)
	}
	return nil
}

func runCountry(ctx context.Context, args []string) error {
	fs := newFlagSet("country")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	query := fs.Arg(0)

	table, err := countries.Load(ctx, newFetchClient())
	if err != nil {
		return err
	}

	var matches []countries.Country
	switch len(query) {
	case 2:
		if country, ok := table.LookupByCode(query); ok {
			matches = append(matches, country)
		}
	case 3:
		if country, ok := table.LookupByCode3(query); ok {
			matches = append(matches, country)
		}
	}
	if len(matches) == 0 {
		matches = table.LookupByName(query)
	}

	if *jsonOut {
		return printJSON(matches)
	}
	if len(matches) == 0 {
		fmt.Printf("No country matches %q\n", query)
		return nil
	}
	for _, country := range matches {
		fmt.Printf("%s (%s)  %-30s capital %s, continent %s\n",
			country.Code, country.Code3, country.Name, country.Capital, country.Continent)
	}
	return nil
}

func runAsname(ctx context.Context, args []string) error {
	fs := newFlagSet("asname")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	asn, err := parseASN(fs.Arg(0))
	if err != nil {
		return err
	}

	table, err := asnames.Load(ctx, newFetchClient())
	if err != nil {
		return err
	}

	entry, ok := table.Lookup(asn)
	if !ok {
		fmt.Printf("AS%d not found\n", asn)
		return nil
	}
	if *jsonOut {
		return printJSON(entry)
	}
	fmt.Printf("AS%d: %s (%s)\n", entry.ASN, entry.Name, entry.Country)
	return nil
}

func runOrg(ctx context.Context, args []string) error {
	fs := newFlagSet("org")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	withSiblings := fs.Bool("siblings", false, "Also list sibling ASNs of the same organization")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	asn, err := parseASN(fs.Arg(0))
	if err != nil {
		return err
	}

	table, err := as2org.Load(ctx, newFetchClient())
	if err != nil {
		return err
	}

	info, ok := table.Lookup(asn)
	if !ok {
		fmt.Printf("AS%d has no organization record\n", asn)
		return nil
	}

	var siblings []as2org.AsInfo
	if *withSiblings {
		siblings, _ = table.Siblings(asn)
	}

	if *jsonOut {
		out := map[string]any{
			"asn":          info.ASN,
			"name":         info.Name,
			"org_id":       info.OrgID,
			"org_name":     info.OrgName,
			"country_code": info.CountryCode,
			"source":       info.Source,
		}
		if *withSiblings {
			sibs := make([]uint32, 0, len(siblings))
			for _, s := range siblings {
				sibs = append(sibs, s.ASN)
			}
			out["siblings"] = sibs
		}
		return printJSON(out)
	}
	fmt.Printf("AS:            AS%d (%s)\n", info.ASN, info.Name)
	fmt.Printf("Organization:  %s (%s)\n", info.OrgName, info.OrgID)
	fmt.Printf("Country:       %s\n", info.CountryCode)
	fmt.Printf("Source:        %s\n", info.Source)
	if *withSiblings && len(siblings) > 1 {
		fmt.Printf("Siblings:     ")
		for _, s := range siblings {
			if s.ASN != info.ASN {
				fmt.Printf(" AS%d", s.ASN)
			}
		}
		fmt.Println()
	}
	return nil
}

func runRel(ctx context.Context, args []string) error {
	fs := newFlagSet("rel")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	asn1, err := parseASN(fs.Arg(0))
	if err != nil {
		return err
	}
	asn2, err := parseASN(fs.Arg(1))
	if err != nil {
		return err
	}

	table, err := as2rel.Load(ctx, newFetchClient())
	if err != nil {
		return err
	}

	v4, v6 := table.LookupPair(asn1, asn2)
	if *jsonOut {
		return printJSON(map[string]any{"v4": observationsOut(v4), "v6": observationsOut(v6)})
	}
	printObservations("IPv4", v4)
	printObservations("IPv6", v6)
	return nil
}

func observationsOut(obs []as2rel.Observation) []map[string]any {
	out := make([]map[string]any, 0, len(obs))
	for _, o := range obs {
		out = append(out, map[string]any{
			"rel":            o.Rel.String(),
			"peers_count":    o.PeersCount,
			"max_peer_count": o.MaxPeerCount,
		})
	}
	return out
}

func printObservations(family string, obs []as2rel.Observation) {
	if len(obs) == 0 {
		fmt.Printf("%s: no observed relationship\n", family)
		return
	}
	for _, o := range obs {
		fmt.Printf("%s: %-2s seen by %d peers (family max %d)\n", family, o.Rel, o.PeersCount, o.MaxPeerCount)
	}
}

func runCollectors(ctx context.Context, args []string) error {
	fs := newFlagSet("collectors")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	countryFilter := fs.String("country", "", "Filter by 2-letter country code")
	activeOnly := fs.Bool("active", false, "Only collectors still publishing")
	fs.Parse(args)

	cs, err := collectors.Load(ctx, newFetchClient())
	if err != nil {
		return err
	}

	list := cs.All()
	if *countryFilter != "" {
		list = cs.ByCountry(*countryFilter)
	}
	if *activeOnly {
		filtered := list[:0]
		for _, col := range list {
			if col.Active() {
				filtered = append(filtered, col)
			}
		}
		list = filtered
	}

	if *jsonOut {
		type colOut struct {
			Name        string `json:"name"`
			Project     string `json:"project"`
			DataURL     string `json:"data_url"`
			ActivatedOn string `json:"activated_on"`
			Country     string `json:"country"`
			Active      bool   `json:"active"`
		}
		out := make([]colOut, 0, len(list))
		for _, col := range list {
			out = append(out, colOut{
				Name:        col.Name,
				Project:     col.Project.String(),
				DataURL:     col.DataURL,
				ActivatedOn: col.ActivatedOn.Format("2006-01-02"),
				Country:     col.Country,
				Active:      col.Active(),
			})
		}
		return printJSON(out)
	}
	for _, col := range list {
		status := "active"
		if !col.Active() {
			status = "retired"
		}
		fmt.Printf("%-16s %-10s %-2s  %s  since %s (%s)\n",
			col.Name, col.Project, col.Country, col.DataURL,
			col.ActivatedOn.Format("2006-01-02"), status)
	}
	return nil
}

func runPeers(ctx context.Context, args []string) error {
	fs := newFlagSet("peers")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	collectorFilter := fs.String("collector", "", "Only peers of this collector")
	fullFeed := fs.Bool("full-feed", false, "Only peers carrying a full table")
	fs.Parse(args)

	peers, err := collectors.LoadPeers(ctx, newFetchClient())
	if err != nil {
		return err
	}
	peers = collectors.FilterPeers(peers, *collectorFilter, *fullFeed)

	if *jsonOut {
		type peerOut struct {
			Collector        string `json:"collector"`
			IP               string `json:"ip"`
			ASN              uint32 `json:"asn"`
			NumV4Prefixes    uint32 `json:"num_v4_pfxs"`
			NumV6Prefixes    uint32 `json:"num_v6_pfxs"`
			NumConnectedASNs uint32 `json:"num_connected_asns"`
			FullFeed         bool   `json:"full_feed"`
		}
		out := make([]peerOut, 0, len(peers))
		for _, p := range peers {
			out = append(out, peerOut{
				Collector:        p.Collector,
				IP:               p.IP.String(),
				ASN:              p.ASN,
				NumV4Prefixes:    p.NumV4Prefixes,
				NumV6Prefixes:    p.NumV6Prefixes,
				NumConnectedASNs: p.NumConnectedASNs,
				FullFeed:         p.FullFeed(),
			})
		}
		return printJSON(out)
	}
	for _, p := range peers {
		feed := ""
		if p.FullFeed() {
			feed = " full-feed"
		}
		fmt.Printf("%-16s AS%-10d %-40s v4=%d v6=%d asns=%d%s\n",
			p.Collector, p.ASN, p.IP, p.NumV4Prefixes, p.NumV6Prefixes, p.NumConnectedASNs, feed)
	}
	return nil
}

// geoipCountry resolves the country of a prefix's first address via a
// local MaxMind database. Enrichment is best-effort; any failure just
// leaves the field empty.
func geoipCountry(mmdbPath, prefixStr string) string {
	if mmdbPath == "" {
		return ""
	}
	prefix, err := netip.ParsePrefix(prefixStr)
	if err != nil {
		return ""
	}
	reader, err := geoip2.Open(mmdbPath)
	if err != nil {
		return ""
	}
	defer reader.Close()

	record, err := reader.City(net.IP(prefix.Addr().AsSlice()))
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}
