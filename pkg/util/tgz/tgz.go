// SPDX-License-Identifier: MIT

// Package tgz pulls individual entries out of remote gzip-compressed tar
// archives without downloading them whole. The archives this is used
// against are hundreds of megabytes, but the entry of interest sits near
// the front, so every operation here terminates the moment its predicate
// is satisfied and drops the connection without draining the rest.
package tgz

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

// Entry describes one file found inside an archive.
type Entry struct {
	Path string // Path within the archive
	Size int64  // Declared content size in bytes
}

// walk scans a gzip-compressed tar stream, invoking fn for every regular
// file entry. fn may read the entry's content from the supplied reader;
// entries it does not read are skipped block-aligned without being
// materialized. Returning stop=true ends the walk immediately, leaving the
// remainder of the stream unread.
//
// This single loop backs Extract, List and Contains; they differ only in
// their termination predicate.
func walk(r io.Reader, fn func(hdr *tar.Header, content io.Reader) (stop bool, err error)) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: gzip: %v", model.ErrDecode, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: tar: %v", model.ErrDecode, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		stop, err := fn(hdr, tr)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// matches reports whether an archive path names the target. Archives nest
// their payload under a per-snapshot directory, so a suffix match on the
// relative target path is accepted alongside an exact match.
func matches(path, target string) bool {
	return path == target || strings.HasSuffix(path, target)
}

// Extract scans a gzip-compressed tar stream for the first entry matching
// targetPath and returns exactly its content bytes. Entries before the
// match are skipped without buffering; nothing after the match is read.
// Returns model.ErrNotFound if the stream ends without a match.
func Extract(r io.Reader, targetPath string) ([]byte, error) {
	var content []byte
	found := false

	err := walk(r, func(hdr *tar.Header, entry io.Reader) (bool, error) {
		if !matches(hdr.Name, targetPath) {
			return false, nil
		}
		buf := make([]byte, hdr.Size)
		if _, err := io.ReadFull(entry, buf); err != nil {
			return false, fmt.Errorf("%w: reading %s: %v", model.ErrDecode, hdr.Name, err)
		}
		content = buf
		found = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, targetPath)
	}
	return content, nil
}

// List enumerates regular file entries in a gzip-compressed tar stream,
// stopping once maxEntries have been collected (0 = no limit). Entry
// content is never read.
func List(r io.Reader, maxEntries int) ([]Entry, error) {
	var entries []Entry

	err := walk(r, func(hdr *tar.Header, _ io.Reader) (bool, error) {
		entries = append(entries, Entry{Path: hdr.Name, Size: hdr.Size})
		return maxEntries > 0 && len(entries) >= maxEntries, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Contains reports whether a gzip-compressed tar stream holds an entry
// matching targetPath, stopping at the first match.
func Contains(r io.Reader, targetPath string) (bool, error) {
	found := false

	err := walk(r, func(hdr *tar.Header, _ io.Reader) (bool, error) {
		if matches(hdr.Name, targetPath) {
			found = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// ExtractFileFromTgz streams the archive at url and returns the content of
// the first entry matching targetPath. The HTTP connection is closed as
// soon as the target has been read, so an archive whose target sits near
// the front costs a fraction of its full size in transfer.
func ExtractFileFromTgz(ctx context.Context, c *fetch.Client, url, targetPath string) ([]byte, error) {
	if c == nil {
		c = fetch.Default()
	}
	log.Printf("INFO: Extracting %s from %s", targetPath, url)

	body, err := c.Stream(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return Extract(body, targetPath)
}

// ListFilesInTgz streams the archive at url and lists up to maxEntries
// regular file entries (0 = all), reading headers only.
func ListFilesInTgz(ctx context.Context, c *fetch.Client, url string, maxEntries int) ([]Entry, error) {
	if c == nil {
		c = fetch.Default()
	}
	log.Printf("INFO: Listing entries in %s", url)

	body, err := c.Stream(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return List(body, maxEntries)
}

// TgzContainsFile streams the archive at url and reports whether it holds
// an entry matching targetPath, stopping at the first match.
func TgzContainsFile(ctx context.Context, c *fetch.Client, url, targetPath string) (bool, error) {
	if c == nil {
		c = fetch.Default()
	}

	body, err := c.Stream(ctx, url)
	if err != nil {
		return false, err
	}
	defer body.Close()

	return Contains(body, targetPath)
}
