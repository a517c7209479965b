// SPDX-License-Identifier: MIT

// Package commons aggregates the data modules behind one handle. Every
// module is optional: nothing is fetched until its load method runs, and
// queries against an unloaded module fail with a ModuleNotLoadedError
// naming the load method to call.
package commons

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"sync"
	"time"

	"bgpinfo/pkg/as2org"
	"bgpinfo/pkg/as2rel"
	"bgpinfo/pkg/asnames"
	"bgpinfo/pkg/bogons"
	"bgpinfo/pkg/collectors"
	"bgpinfo/pkg/countries"
	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
	"bgpinfo/pkg/rpki"
	"bgpinfo/pkg/rpkicache"
)

// ModuleNotLoadedError reports a query against a module whose load method
// has not run yet.
type ModuleNotLoadedError struct {
	Module     string
	LoadMethod string
}

func (e *ModuleNotLoadedError) Error() string {
	return fmt.Sprintf("module %q not loaded; call %s first", e.Module, e.LoadMethod)
}

func notLoaded(module, loadMethod string) error {
	return &ModuleNotLoadedError{Module: module, LoadMethod: loadMethod}
}

// Config controls the shared collaborators of a Commons handle.
type Config struct {
	// Client is used for all remote fetches; nil means fetch.Default().
	Client *fetch.Client
	// CacheDir enables the local snapshot cache for historical RPKI
	// loads when non-empty.
	CacheDir string
}

// Commons owns one optional slot per data module.
type Commons struct {
	mu     sync.RWMutex
	client *fetch.Client
	cache  *rpkicache.Store

	rpkiTrie   *rpki.Trie
	rpkiSource rpki.HistoricalSource
	rpkiDate   time.Time // zero for live data

	bogons     *bogons.Bogons
	countries  *countries.Countries
	asnames    *asnames.Table
	as2org     *as2org.Table
	as2rel     *as2rel.Table
	collectors *collectors.Collectors

	peers       []collectors.Peer
	peersLoaded bool
}

// New creates an empty Commons handle. When cfg.CacheDir is set the
// snapshot cache is opened immediately so a bad path fails fast.
func New(cfg Config) (*Commons, error) {
	c := &Commons{client: cfg.Client}
	if c.client == nil {
		c.client = fetch.Default()
	}
	if cfg.CacheDir != "" {
		store, err := rpkicache.Open(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		c.cache = store
	}
	return c, nil
}

// Close releases the snapshot cache, if open.
func (c *Commons) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		return nil
	}
	err := c.cache.Close()
	c.cache = nil
	return err
}

// LoadRPKI loads the current RPKI data from the Cloudflare live feed.
func (c *Commons) LoadRPKI(ctx context.Context) error {
	trie, err := rpki.FromCloudflare(ctx, c.client)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rpkiTrie = trie
	c.rpkiDate = time.Time{}
	return nil
}

// LoadRPKIHistorical loads RPKI data for a calendar date from the given
// source. With a snapshot cache configured, a cached copy is used when
// present and the freshly loaded records are stored otherwise.
func (c *Commons) LoadRPKIHistorical(ctx context.Context, source rpki.HistoricalSource, date time.Time) error {
	day := date.UTC().Truncate(24 * time.Hour)

	// Snapshot the handle so a concurrent Close cannot nil it out from
	// under the load.
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()

	if cache != nil {
		roas, aspas, ok, err := cache.Get(source.String(), day)
		if err != nil {
			return err
		}
		if ok {
			log.Printf("INFO: Using cached RPKI snapshot for %s %s", source, day.Format("2006-01-02"))
			trie := rpki.NewTrieAt(day)
			trie.InsertRoas(roas)
			for _, aspa := range aspas {
				trie.InsertAspa(aspa)
			}
			c.setHistorical(trie, source, day)
			return nil
		}
	}

	trie, err := source.Load(ctx, c.client, day)
	if err != nil {
		return err
	}
	if cache != nil {
		if err := cache.Put(source.String(), day, trie.AllRoas(), trie.AllAspas()); err != nil {
			log.Printf("WARN: Failed to cache RPKI snapshot: %v", err)
		}
	}
	c.setHistorical(trie, source, day)
	return nil
}

func (c *Commons) setHistorical(trie *rpki.Trie, source rpki.HistoricalSource, day time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rpkiTrie = trie
	c.rpkiSource = source
	c.rpkiDate = day
}

// LoadBogons loads the IANA special-purpose registries.
func (c *Commons) LoadBogons(ctx context.Context) error {
	b, err := bogons.Load(ctx, c.client)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.bogons = b
	c.mu.Unlock()
	return nil
}

// LoadCountries loads the GeoNames country table.
func (c *Commons) LoadCountries(ctx context.Context) error {
	t, err := countries.Load(ctx, c.client)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.countries = t
	c.mu.Unlock()
	return nil
}

// LoadASNames loads the RIPE AS names table.
func (c *Commons) LoadASNames(ctx context.Context) error {
	t, err := asnames.Load(ctx, c.client)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.asnames = t
	c.mu.Unlock()
	return nil
}

// LoadAS2Rel loads the BGPKIT AS relationship datasets.
func (c *Commons) LoadAS2Rel(ctx context.Context) error {
	t, err := as2rel.Load(ctx, c.client)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.as2rel = t
	c.mu.Unlock()
	return nil
}

// LoadCollectors loads the MRT collector metadata.
func (c *Commons) LoadCollectors(ctx context.Context) error {
	t, err := collectors.Load(ctx, c.client)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.collectors = t
	c.mu.Unlock()
	return nil
}

// LoadAS2Org loads CAIDA's AS-to-Organization dataset.
func (c *Commons) LoadAS2Org(ctx context.Context) error {
	t, err := as2org.Load(ctx, c.client)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.as2org = t
	c.mu.Unlock()
	return nil
}

// LoadCollectorPeers loads the per-collector BGP peer inventory.
func (c *Commons) LoadCollectorPeers(ctx context.Context) error {
	peers, err := collectors.LoadPeers(ctx, c.client)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.peers = peers
	c.peersLoaded = true
	c.mu.Unlock()
	return nil
}

// ReloadAll re-runs the loader of every module that is currently loaded.
// The first failure stops the reload.
func (c *Commons) ReloadAll(ctx context.Context) error {
	c.mu.RLock()
	rpkiLoaded := c.rpkiTrie != nil
	rpkiSource := c.rpkiSource
	rpkiDate := c.rpkiDate
	bogonsLoaded := c.bogons != nil
	countriesLoaded := c.countries != nil
	asnamesLoaded := c.asnames != nil
	as2orgLoaded := c.as2org != nil
	as2relLoaded := c.as2rel != nil
	collectorsLoaded := c.collectors != nil
	peersLoaded := c.peersLoaded
	c.mu.RUnlock()

	if rpkiLoaded {
		var err error
		if rpkiDate.IsZero() {
			err = c.LoadRPKI(ctx)
		} else {
			err = c.LoadRPKIHistorical(ctx, rpkiSource, rpkiDate)
		}
		if err != nil {
			return fmt.Errorf("reload rpki: %w", err)
		}
	}
	if bogonsLoaded {
		if err := c.LoadBogons(ctx); err != nil {
			return fmt.Errorf("reload bogons: %w", err)
		}
	}
	if countriesLoaded {
		if err := c.LoadCountries(ctx); err != nil {
			return fmt.Errorf("reload countries: %w", err)
		}
	}
	if asnamesLoaded {
		if err := c.LoadASNames(ctx); err != nil {
			return fmt.Errorf("reload asnames: %w", err)
		}
	}
	if as2relLoaded {
		if err := c.LoadAS2Rel(ctx); err != nil {
			return fmt.Errorf("reload as2rel: %w", err)
		}
	}
	if as2orgLoaded {
		if err := c.LoadAS2Org(ctx); err != nil {
			return fmt.Errorf("reload as2org: %w", err)
		}
	}
	if collectorsLoaded {
		if err := c.LoadCollectors(ctx); err != nil {
			return fmt.Errorf("reload collectors: %w", err)
		}
	}
	if peersLoaded {
		if err := c.LoadCollectorPeers(ctx); err != nil {
			return fmt.Errorf("reload collector peers: %w", err)
		}
	}
	return nil
}

// RpkiValidate validates a prefix origination against the loaded RPKI
// data.
func (c *Commons) RpkiValidate(prefixStr string, asn uint32) (model.Validation, error) {
	c.mu.RLock()
	trie := c.rpkiTrie
	c.mu.RUnlock()
	if trie == nil {
		return 0, notLoaded("rpki", "LoadRPKI or LoadRPKIHistorical")
	}
	prefix, err := netip.ParsePrefix(prefixStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidPrefix, prefixStr)
	}
	return trie.Validate(prefix, asn), nil
}

// RpkiValidateAt validates with entry validity windows applied at the
// given time; the zero time means now.
func (c *Commons) RpkiValidateAt(prefixStr string, asn uint32, at time.Time) (model.Validation, error) {
	c.mu.RLock()
	trie := c.rpkiTrie
	c.mu.RUnlock()
	if trie == nil {
		return 0, notLoaded("rpki", "LoadRPKI or LoadRPKIHistorical")
	}
	prefix, err := netip.ParsePrefix(prefixStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidPrefix, prefixStr)
	}
	return trie.ValidateAt(prefix, asn, at), nil
}

// RpkiLookupByPrefix returns all ROA entries covering the prefix.
func (c *Commons) RpkiLookupByPrefix(prefixStr string) ([]model.Roa, error) {
	c.mu.RLock()
	trie := c.rpkiTrie
	c.mu.RUnlock()
	if trie == nil {
		return nil, notLoaded("rpki", "LoadRPKI or LoadRPKIHistorical")
	}
	prefix, err := netip.ParsePrefix(prefixStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidPrefix, prefixStr)
	}
	return trie.LookupByPrefix(prefix), nil
}

// RpkiAspa returns the ASPA record for a customer ASN.
func (c *Commons) RpkiAspa(customerASN uint32) (model.Aspa, bool, error) {
	c.mu.RLock()
	trie := c.rpkiTrie
	c.mu.RUnlock()
	if trie == nil {
		return model.Aspa{}, false, notLoaded("rpki", "LoadRPKI or LoadRPKIHistorical")
	}
	aspa, ok := trie.AspaLookup(customerASN)
	return aspa, ok, nil
}

// BogonsMatch checks a prefix-or-ASN string against the bogon registries.
func (c *Commons) BogonsMatch(s string) (bool, error) {
	c.mu.RLock()
	b := c.bogons
	c.mu.RUnlock()
	if b == nil {
		return false, notLoaded("bogons", "LoadBogons")
	}
	return b.MatchesStr(s), nil
}

// BogonsMatchPrefix checks a prefix against the bogon registries.
func (c *Commons) BogonsMatchPrefix(prefixStr string) (bool, error) {
	c.mu.RLock()
	b := c.bogons
	c.mu.RUnlock()
	if b == nil {
		return false, notLoaded("bogons", "LoadBogons")
	}
	prefix, err := netip.ParsePrefix(prefixStr)
	if err != nil {
		return false, fmt.Errorf("%w: %q", model.ErrInvalidPrefix, prefixStr)
	}
	return b.IsBogonPrefix(prefix), nil
}

// BogonsMatchASN checks an ASN against the bogon registries.
func (c *Commons) BogonsMatchASN(asn uint32) (bool, error) {
	c.mu.RLock()
	b := c.bogons
	c.mu.RUnlock()
	if b == nil {
		return false, notLoaded("bogons", "LoadBogons")
	}
	return b.IsBogonASN(asn), nil
}

// CountryByCode finds a country by ISO 2-letter code.
func (c *Commons) CountryByCode(code string) (countries.Country, bool, error) {
	c.mu.RLock()
	t := c.countries
	c.mu.RUnlock()
	if t == nil {
		return countries.Country{}, false, notLoaded("countries", "LoadCountries")
	}
	country, ok := t.LookupByCode(code)
	return country, ok, nil
}

// CountryByCode3 finds a country by ISO 3-letter code.
func (c *Commons) CountryByCode3(code string) (countries.Country, bool, error) {
	c.mu.RLock()
	t := c.countries
	c.mu.RUnlock()
	if t == nil {
		return countries.Country{}, false, notLoaded("countries", "LoadCountries")
	}
	country, ok := t.LookupByCode3(code)
	return country, ok, nil
}

// CountriesByName finds countries whose name contains the given string.
func (c *Commons) CountriesByName(name string) ([]countries.Country, error) {
	c.mu.RLock()
	t := c.countries
	c.mu.RUnlock()
	if t == nil {
		return nil, notLoaded("countries", "LoadCountries")
	}
	return t.LookupByName(name), nil
}

// ASName returns the registered name and country of an AS number.
func (c *Commons) ASName(asn uint32) (asnames.AsName, bool, error) {
	c.mu.RLock()
	t := c.asnames
	c.mu.RUnlock()
	if t == nil {
		return asnames.AsName{}, false, notLoaded("asnames", "LoadASNames")
	}
	name, ok := t.Lookup(asn)
	return name, ok, nil
}

// AS2RelLookup returns the observed relationships of an AS pair per
// address family.
func (c *Commons) AS2RelLookup(asn1, asn2 uint32) (v4, v6 []as2rel.Observation, err error) {
	c.mu.RLock()
	t := c.as2rel
	c.mu.RUnlock()
	if t == nil {
		return nil, nil, notLoaded("as2rel", "LoadAS2Rel")
	}
	v4, v6 = t.LookupPair(asn1, asn2)
	return v4, v6, nil
}

// MrtCollectorsAll returns all known MRT collectors.
func (c *Commons) MrtCollectorsAll() ([]collectors.MrtCollector, error) {
	c.mu.RLock()
	t := c.collectors
	c.mu.RUnlock()
	if t == nil {
		return nil, notLoaded("collectors", "LoadCollectors")
	}
	return t.All(), nil
}

// MrtCollectorByName finds an MRT collector by name.
func (c *Commons) MrtCollectorByName(name string) (collectors.MrtCollector, bool, error) {
	c.mu.RLock()
	t := c.collectors
	c.mu.RUnlock()
	if t == nil {
		return collectors.MrtCollector{}, false, notLoaded("collectors", "LoadCollectors")
	}
	col, ok := t.ByName(name)
	return col, ok, nil
}

// MrtCollectorsByCountry returns the MRT collectors hosted in a country.
func (c *Commons) MrtCollectorsByCountry(country string) ([]collectors.MrtCollector, error) {
	c.mu.RLock()
	t := c.collectors
	c.mu.RUnlock()
	if t == nil {
		return nil, notLoaded("collectors", "LoadCollectors")
	}
	return t.ByCountry(country), nil
}

// MrtCollectorPeersAll returns every known collector peer.
func (c *Commons) MrtCollectorPeersAll() ([]collectors.Peer, error) {
	c.mu.RLock()
	peers, loaded := c.peers, c.peersLoaded
	c.mu.RUnlock()
	if !loaded {
		return nil, notLoaded("collector peers", "LoadCollectorPeers")
	}
	return peers, nil
}

// MrtCollectorPeersFullFeed returns the peers carrying a full table in at
// least one address family.
func (c *Commons) MrtCollectorPeersFullFeed() ([]collectors.Peer, error) {
	peers, err := c.MrtCollectorPeersAll()
	if err != nil {
		return nil, err
	}
	return collectors.FilterPeers(peers, "", true), nil
}

// AS2Org returns the organization info registered for an ASN.
func (c *Commons) AS2Org(asn uint32) (as2org.AsInfo, bool, error) {
	c.mu.RLock()
	t := c.as2org
	c.mu.RUnlock()
	if t == nil {
		return as2org.AsInfo{}, false, notLoaded("as2org", "LoadAS2Org")
	}
	info, ok := t.Lookup(asn)
	return info, ok, nil
}

// AS2OrgSiblings returns all ASNs registered to the same organization.
func (c *Commons) AS2OrgSiblings(asn uint32) ([]as2org.AsInfo, bool, error) {
	c.mu.RLock()
	t := c.as2org
	c.mu.RUnlock()
	if t == nil {
		return nil, false, notLoaded("as2org", "LoadAS2Org")
	}
	siblings, ok := t.Siblings(asn)
	return siblings, ok, nil
}

// AS2OrgAreSiblings reports whether two ASNs share an organization.
func (c *Commons) AS2OrgAreSiblings(asn1, asn2 uint32) (bool, error) {
	c.mu.RLock()
	t := c.as2org
	c.mu.RUnlock()
	if t == nil {
		return false, notLoaded("as2org", "LoadAS2Org")
	}
	return t.AreSiblings(asn1, asn2), nil
}

// RpkiLoaded reports whether RPKI data is available.
func (c *Commons) RpkiLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rpkiTrie != nil
}
