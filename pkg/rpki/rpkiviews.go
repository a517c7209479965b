// SPDX-License-Identifier: MIT

package rpki

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
	"bgpinfo/pkg/util/tgz"
	"bgpinfo/pkg/util/workers"
)

// Collector identifies one of the RPKIviews mirror operators. Each runs an
// independent vantage point publishing rpki-client snapshots as .tgz
// archives several times a day.
type Collector int

const (
	// CollectorSobornost: josephine.sobornost.net - A2B Internet (AS51088), Amsterdam
	CollectorSobornost Collector = iota
	// CollectorMassars: amber.massars.net - Massar (AS57777), Lugano
	CollectorMassars
	// CollectorAttn: dango.attn.jp - Internet Initiative Japan (AS2497), Tokyo
	CollectorAttn
	// CollectorKerfuffle: rpkiviews.kerfuffle.net - Kerfuffle, LLC (AS35008), Fremont
	CollectorKerfuffle
)

// DefaultCollector is used when the caller does not pick one.
const DefaultCollector = CollectorSobornost

// rpkiViewsTarget is the archive entry every collector places the
// validated dataset under.
const rpkiViewsTarget = "output/rpki-client.json"

// AllCollectors lists the supported collectors.
func AllCollectors() []Collector {
	return []Collector{CollectorSobornost, CollectorMassars, CollectorAttn, CollectorKerfuffle}
}

// BaseURL returns the archive root for this collector.
func (c Collector) BaseURL() string {
	switch c {
	case CollectorSobornost:
		return "https://josephine.sobornost.net/rpkidata"
	case CollectorMassars:
		return "https://amber.massars.net/rpkidata"
	case CollectorAttn:
		return "https://dango.attn.jp/rpkidata"
	case CollectorKerfuffle:
		return "https://rpkiviews.kerfuffle.net/rpkidata"
	}
	return ""
}

func (c Collector) String() string {
	switch c {
	case CollectorSobornost:
		return "sobornost.net"
	case CollectorMassars:
		return "massars.net"
	case CollectorAttn:
		return "attn.jp"
	case CollectorKerfuffle:
		return "kerfuffle.net"
	}
	return "unknown"
}

// ParseCollector accepts either the short collector name or its full host.
func ParseCollector(s string) (Collector, error) {
	switch strings.ToLower(s) {
	case "sobornost.net", "josephine.sobornost.net":
		return CollectorSobornost, nil
	case "massars.net", "amber.massars.net":
		return CollectorMassars, nil
	case "attn.jp", "dango.attn.jp":
		return CollectorAttn, nil
	case "kerfuffle.net", "rpkiviews.kerfuffle.net":
		return CollectorKerfuffle, nil
	}
	return 0, fmt.Errorf("unknown RPKIviews collector: %s", s)
}

// candidateURLs constructs the deterministic hourly snapshot locations for
// a calendar date. No directory listing is parsed; each candidate is
// existence-checked before use. Adding a collector means adding a base URL
// above, not new logic.
func (c Collector) candidateURLs(date time.Time) ([]string, []time.Time) {
	y, m, d := date.UTC().Date()

	urls := make([]string, 0, 24)
	stamps := make([]time.Time, 0, 24)
	for hour := 0; hour < 24; hour++ {
		ts := time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
		urls = append(urls, fmt.Sprintf("%s/%04d/%02d/%02d/rpki-%sZ.tgz",
			c.BaseURL(), y, int(m), d, ts.Format("20060102T150405")))
		stamps = append(stamps, ts)
	}
	return urls, stamps
}

// probeWorkers bounds concurrent HEAD probes per listing call.
const probeWorkers = 6

// ListRpkiViewsFiles discovers the snapshot archives a collector actually
// published for a calendar date by probing the deterministic candidate
// paths. Probes run on a bounded worker pool; results come back in
// chronological order.
func ListRpkiViewsFiles(ctx context.Context, fc *fetch.Client, collector Collector, date time.Time) ([]model.RpkiFile, error) {
	if fc == nil {
		fc = fetch.Default()
	}
	urls, stamps := collector.candidateURLs(date)
	return probeCandidates(ctx, fc, urls, stamps, collector.String())
}

// probeCandidates HEAD-probes each candidate URL and keeps the ones that
// exist, carrying the advertised archive size when the server reports one.
func probeCandidates(ctx context.Context, fc *fetch.Client, urls []string, stamps []time.Time, collector string) ([]model.RpkiFile, error) {
	found := make([]bool, len(urls))
	sizes := make([]int64, len(urls))
	pool := workers.NewPool(ctx, workers.Config{Workers: probeWorkers})
	for i, url := range urls {
		i, url := i, url
		pool.Submit(i, func(ctx context.Context) error {
			ok, size, err := fc.Probe(ctx, url)
			if err != nil {
				return err
			}
			found[i] = ok
			sizes[i] = size
			return nil
		})
	}

	var probeErr error
	for _, res := range pool.Wait() {
		if res.Error != nil {
			probeErr = res.Error
		}
	}

	var files []model.RpkiFile
	for i, ok := range found {
		if ok {
			files = append(files, model.RpkiFile{
				URL:       urls[i],
				Timestamp: stamps[i],
				Size:      sizes[i],
				Collector: collector,
			})
		}
	}
	if len(files) == 0 && probeErr != nil {
		// Nothing found and at least one probe failed outright; surface
		// the fault rather than claiming the date is empty.
		return nil, probeErr
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Timestamp.Before(files[j].Timestamp) })
	return files, nil
}

// FromRpkiViews builds a trie from an RPKIviews collector for a calendar
// date. Candidates are tried in chronological order; the first archive
// that yields the dataset wins. A candidate missing the target entry or
// failing transport is skipped in favor of the next one.
func FromRpkiViews(ctx context.Context, fc *fetch.Client, collector Collector, date time.Time) (*Trie, error) {
	if fc == nil {
		fc = fetch.Default()
	}

	files, err := ListRpkiViewsFiles(ctx, fc, collector, date)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no RPKIviews files for %s from %s",
			model.ErrSourceUnavailable, date.UTC().Format("2006-01-02"), collector)
	}

	return fromCandidateFiles(ctx, fc, files, date, collector.String())
}

// fromCandidateFiles tries candidates in order. A candidate missing the
// target entry or failing transport is recoverable and the next one is
// tried; any other failure (a present but malformed dataset) aborts.
func fromCandidateFiles(ctx context.Context, fc *fetch.Client, files []model.RpkiFile, date time.Time, origin string) (*Trie, error) {
	for _, file := range files {
		trie, err := FromRpkiViewsFile(ctx, fc, file.URL, date)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrFetchFailed) {
				log.Printf("WARN: Skipping candidate %s: %v", file.URL, err)
				continue
			}
			return nil, err
		}
		return trie, nil
	}
	return nil, fmt.Errorf("%w: no candidate for %s from %s yielded a usable file",
		model.ErrSourceUnavailable, date.UTC().Format("2006-01-02"), origin)
}

// FromRpkiViewsFile builds a trie from one specific snapshot archive URL.
func FromRpkiViewsFile(ctx context.Context, fc *fetch.Client, url string, date time.Time) (*Trie, error) {
	if fc == nil {
		fc = fetch.Default()
	}

	data, err := tgz.ExtractFileFromTgz(ctx, fc, url, rpkiViewsTarget)
	if err != nil {
		return nil, err
	}
	doc, err := parseClientData(data)
	if err != nil {
		return nil, err
	}

	trie := newTrie(date, fc)
	if err := trie.mergeClientData(doc); err != nil {
		return nil, err
	}
	log.Printf("INFO: Loaded %d ROAs and %d ASPAs from %s", trie.RoaCount(), trie.AspaCount(), url)
	return trie, nil
}

// FromRpkiViewsFiles builds one trie from several snapshot archives,
// merging union-style: records from later files join earlier ones, with
// the (prefix, asn, max_length) triplet as the only dedup key. Any file
// failing fails the whole merge.
func FromRpkiViewsFiles(ctx context.Context, fc *fetch.Client, urls []string, date time.Time) (*Trie, error) {
	if fc == nil {
		fc = fetch.Default()
	}

	trie := newTrie(date, fc)
	for _, url := range urls {
		data, err := tgz.ExtractFileFromTgz(ctx, fc, url, rpkiViewsTarget)
		if err != nil {
			return nil, err
		}
		doc, err := parseClientData(data)
		if err != nil {
			return nil, err
		}
		if err := trie.mergeClientData(doc); err != nil {
			return nil, err
		}
	}
	return trie, nil
}

// HistoricalSource selects where historical RPKI data comes from: the RIPE
// NCC archive, or one of the RPKIviews collectors.
type HistoricalSource struct {
	viaRpkiViews bool
	collector    Collector
}

// RipeSource selects the RIPE NCC historical archive.
func RipeSource() HistoricalSource {
	return HistoricalSource{}
}

// RpkiViewsSource selects an RPKIviews collector.
func RpkiViewsSource(c Collector) HistoricalSource {
	return HistoricalSource{viaRpkiViews: true, collector: c}
}

func (s HistoricalSource) String() string {
	if s.viaRpkiViews {
		return "RPKIviews (" + s.collector.String() + ")"
	}
	return "RIPE NCC"
}

// Load builds a trie from this source for a calendar date.
func (s HistoricalSource) Load(ctx context.Context, fc *fetch.Client, date time.Time) (*Trie, error) {
	if s.viaRpkiViews {
		return FromRpkiViews(ctx, fc, s.collector, date)
	}
	return FromRipeHistorical(ctx, fc, date)
}

// ListFiles enumerates the files this source offers for a calendar date.
func (s HistoricalSource) ListFiles(ctx context.Context, fc *fetch.Client, date time.Time) ([]model.RpkiFile, error) {
	if s.viaRpkiViews {
		return ListRpkiViewsFiles(ctx, fc, s.collector, date)
	}
	return ListRipeFiles(date), nil
}
