package rpki

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

// ripeFTPRoot is the base of the RIPE NCC historical archive, which keeps
// one rpki-client output document per trust anchor per calendar day.
const ripeFTPRoot = "https://ftp.ripe.net/rpki"

// ripeFileURL builds the canonical archive location for one RIR and date.
func ripeFileURL(rir model.Rir, date time.Time) string {
	y, m, d := date.UTC().Date()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/output.json.xz", ripeFTPRoot, rir.TalName(), y, int(m), d)
}

// ListRipeFiles returns the archive URLs for all five RIRs for a calendar
// date. The archive publishes one snapshot per day, so the timestamp is
// midnight UTC of that day.
func ListRipeFiles(date time.Time) []model.RpkiFile {
	y, m, d := date.UTC().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	files := make([]model.RpkiFile, 0, 5)
	for _, rir := range model.AllRirs() {
		files = append(files, model.RpkiFile{
			URL:       ripeFileURL(rir, date),
			Timestamp: midnight,
			RIR:       rir,
		})
	}
	return files
}

// FromRipeHistorical builds a trie from the RIPE NCC archives for a
// calendar date, merging the documents of all five RIRs. The five files
// are fetched concurrently; merging is serialized so the dedup invariant
// holds. Any RIR failing fails the whole load.
func FromRipeHistorical(ctx context.Context, c *fetch.Client, date time.Time) (*Trie, error) {
	if c == nil {
		c = fetch.Default()
	}

	trie := newTrie(date.UTC().Truncate(24*time.Hour), c)

	var mergeMu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, rir := range model.AllRirs() {
		rir := rir
		url := ripeFileURL(rir, date)
		g.Go(func() error {
			log.Printf("INFO: Loading %s ROAs from %s", rir, url)
			data, err := c.ReadAll(ctx, url)
			if err != nil {
				return fmt.Errorf("%s: %w", rir, err)
			}
			doc, err := parseClientData(data)
			if err != nil {
				return fmt.Errorf("%s: %w", rir, err)
			}
			mergeMu.Lock()
			defer mergeMu.Unlock()
			return trie.mergeClientData(doc)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Printf("INFO: Loaded %d ROAs and %d ASPAs from RIPE historical for %s",
		trie.RoaCount(), trie.AspaCount(), date.UTC().Format("2006-01-02"))
	return trie, nil
}

// FromRipeFiles builds a trie from specific RIPE archive URLs, merging
// them union-style in order.
func FromRipeFiles(ctx context.Context, c *fetch.Client, urls []string, date time.Time) (*Trie, error) {
	if c == nil {
		c = fetch.Default()
	}

	trie := newTrie(date, c)
	for _, url := range urls {
		log.Printf("INFO: Loading ROAs from %s", url)
		data, err := c.ReadAll(ctx, url)
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
