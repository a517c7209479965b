package rpki

import (
	"context"
	"log"
	"time"

	"bgpinfo/pkg/fetch"
)

// CloudflareRpkiURL is the live rpki-client JSON feed published by the
// Cloudflare RPKI portal. It carries ROAs, ASPAs and BGPsec keys with
// expiry timestamps.
const CloudflareRpkiURL = "https://rpki.cloudflare.com/rpki.json"

// FromCloudflare builds a trie from the current Cloudflare feed.
func FromCloudflare(ctx context.Context, c *fetch.Client) (*Trie, error) {
	if c == nil {
		c = fetch.Default()
	}
	log.Printf("INFO: Loading RPKI data from %s", CloudflareRpkiURL)

	data, err := c.ReadAll(ctx, CloudflareRpkiURL)
	if err != nil {
		return nil, err
	}
	doc, err := parseClientData(data)
	if err != nil {
		return nil, err
	}

	trie := newTrie(time.Time{}, c)
	if err := trie.mergeClientData(doc); err != nil {
		return nil, err
	}
	log.Printf("INFO: Loaded %d ROAs and %d ASPAs from Cloudflare", trie.RoaCount(), trie.AspaCount())
	return trie, nil
}
