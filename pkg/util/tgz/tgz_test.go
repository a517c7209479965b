package tgz

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"strings"
	"testing"

	"bgpinfo/pkg/model"
)

// buildArchive creates an in-memory .tgz with the given entries in order.
func buildArchive(t *testing.T, entries map[string]string, order []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, name := range order {
		content := entries[name]
		hdr := &tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader(%s): %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Write(%s): %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return buf.Bytes()
}

// countingReader tracks how many compressed bytes were consumed.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// noise produces deterministic incompressible bytes so that the compressed
// size of skipped entries stays large enough to make early termination
// observable through the byte counter.
func noise(seed uint32, n int) string {
	b := make([]byte, n)
	state := seed
	for i := range b {
		state = state*1664525 + 1013904223
		b[i] = byte(state >> 24)
	}
	return string(b)
}

func testEntries() (map[string]string, []string) {
	entries := map[string]string{
		"snapshot/README.txt":       "readme " + noise(1, 2048),
		"snapshot/metadata.csv":     "meta " + noise(2, 2048),
		"snapshot/data/target.json": `{"roas":[{"prefix":"10.0.0.0/8"}]}`,
		"snapshot/trailing-1.bin":   noise(3, 128*1024),
		"snapshot/trailing-2.bin":   noise(4, 128*1024),
	}
	order := []string{
		"snapshot/README.txt",
		"snapshot/metadata.csv",
		"snapshot/data/target.json",
		"snapshot/trailing-1.bin",
		"snapshot/trailing-2.bin",
	}
	return entries, order
}

func TestExtractReturnsExactContent(t *testing.T) {
	entries, order := testEntries()
	archive := buildArchive(t, entries, order)

	content, err := Extract(bytes.NewReader(archive), "data/target.json")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if string(content) != entries["snapshot/data/target.json"] {
		t.Errorf("got %q, want %q", content, entries["snapshot/data/target.json"])
	}
}

func TestExtractExactPathMatch(t *testing.T) {
	entries, order := testEntries()
	archive := buildArchive(t, entries, order)

	content, err := Extract(bytes.NewReader(archive), "snapshot/data/target.json")
	if err != nil {
		t.Fatalf("Extract with full path failed: %v", err)
	}
	if string(content) != entries["snapshot/data/target.json"] {
		t.Errorf("got %q, want %q", content, entries["snapshot/data/target.json"])
	}
}

func TestExtractStopsEarly(t *testing.T) {
	entries, order := testEntries()
	archive := buildArchive(t, entries, order)

	counter := &countingReader{r: bytes.NewReader(archive)}
	if _, err := Extract(counter, "data/target.json"); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// The target sits at position 3 of 5; the two trailing entries must
	// not have been pulled through the decompressor.
	if counter.n >= len(archive) {
		t.Errorf("consumed %d of %d bytes; expected early termination", counter.n, len(archive))
	}
}

func TestExtractNotFound(t *testing.T) {
	entries, order := testEntries()
	archive := buildArchive(t, entries, order)

	_, err := Extract(bytes.NewReader(archive), "no-such-file.json")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestExtractBadGzip(t *testing.T) {
	_, err := Extract(strings.NewReader("this is not gzip data"), "anything")
	if !errors.Is(err, model.ErrDecode) {
		t.Errorf("got %v, want ErrDecode", err)
	}
}

func TestListAllEntries(t *testing.T) {
	entries, order := testEntries()
	archive := buildArchive(t, entries, order)

	list, err := List(bytes.NewReader(archive), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != len(order) {
		t.Fatalf("got %d entries, want %d", len(list), len(order))
	}
	for i, e := range list {
		if e.Path != order[i] {
			t.Errorf("entry %d: got path %s, want %s", i, e.Path, order[i])
		}
		if e.Size != int64(len(entries[order[i]])) {
			t.Errorf("entry %d: got size %d, want %d", i, e.Size, len(entries[order[i]]))
		}
	}
}

func TestListMaxEntries(t *testing.T) {
	entries, order := testEntries()
	archive := buildArchive(t, entries, order)

	counter := &countingReader{r: bytes.NewReader(archive)}
	list, err := List(counter, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d entries, want 2", len(list))
	}
	if counter.n >= len(archive) {
		t.Errorf("consumed %d of %d bytes; expected early termination", counter.n, len(archive))
	}
}

func TestListSkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: "dir/", Mode: 0755, Typeflag: tar.TypeDir}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := tw.WriteHeader(&tar.Header{Name: "dir/file", Mode: 0644, Size: 1, Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write([]byte("a")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	tw.Close()
	gz.Close()

	list, err := List(bytes.NewReader(buf.Bytes()), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].Path != "dir/file" {
		t.Errorf("got %+v, want only dir/file", list)
	}
}

func TestContains(t *testing.T) {
	entries, order := testEntries()
	archive := buildArchive(t, entries, order)

	found, err := Contains(bytes.NewReader(archive), "metadata.csv")
	if err != nil {
		t.Fatalf("Contains failed: %v", err)
	}
	if !found {
		t.Error("expected metadata.csv to be found")
	}

	found, err = Contains(bytes.NewReader(archive), "absent.txt")
	if err != nil {
		t.Fatalf("Contains failed: %v", err)
	}
	if found {
		t.Error("absent.txt should not be found")
	}
}

func TestContainsStopsAtFirstMatch(t *testing.T) {
	entries, order := testEntries()
	archive := buildArchive(t, entries, order)

	counter := &countingReader{r: bytes.NewReader(archive)}
	found, err := Contains(counter, "README.txt")
	if err != nil {
		t.Fatalf("Contains failed: %v", err)
	}
	if !found {
		t.Fatal("expected README.txt to be found")
	}
	if counter.n >= len(archive) {
		t.Errorf("consumed %d of %d bytes; expected early termination", counter.n, len(archive))
	}
}
