package rpki

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

func TestCandidateURLs(t *testing.T) {
	date := time.Date(2024, 1, 4, 13, 45, 0, 0, time.UTC) // time of day is ignored
	urls, stamps := CollectorSobornost.candidateURLs(date)

	if len(urls) != 24 || len(stamps) != 24 {
		t.Fatalf("got %d urls, %d stamps; want 24 each", len(urls), len(stamps))
	}
	want := "https://josephine.sobornost.net/rpkidata/2024/01/04/rpki-20240104T000000Z.tgz"
	if urls[0] != want {
		t.Errorf("first candidate:\n got %s\nwant %s", urls[0], want)
	}
	want = "https://josephine.sobornost.net/rpkidata/2024/01/04/rpki-20240104T230000Z.tgz"
	if urls[23] != want {
		t.Errorf("last candidate:\n got %s\nwant %s", urls[23], want)
	}
	if !stamps[5].Equal(time.Date(2024, 1, 4, 5, 0, 0, 0, time.UTC)) {
		t.Errorf("stamp 5 = %v, want 05:00 UTC", stamps[5])
	}
}

func TestParseCollector(t *testing.T) {
	cases := []struct {
		in   string
		want Collector
	}{
		{"sobornost.net", CollectorSobornost},
		{"josephine.sobornost.net", CollectorSobornost},
		{"Massars.NET", CollectorMassars},
		{"attn.jp", CollectorAttn},
		{"rpkiviews.kerfuffle.net", CollectorKerfuffle},
	}
	for _, tc := range cases {
		got, err := ParseCollector(tc.in)
		if err != nil {
			t.Errorf("ParseCollector(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseCollector(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseCollector("example.org"); err == nil {
		t.Error("expected error for unknown collector")
	}
}

func TestCollectorRoundTrip(t *testing.T) {
	for _, c := range AllCollectors() {
		got, err := ParseCollector(c.String())
		if err != nil {
			t.Errorf("%v: %v", c, err)
			continue
		}
		if got != c {
			t.Errorf("round trip %v -> %q -> %v", c, c.String(), got)
		}
		if c.BaseURL() == "" {
			t.Errorf("%v has no base URL", c)
		}
	}
}

// snapshotArchive builds a collector-shaped .tgz holding the rpki-client
// JSON document plus the sibling files real snapshots carry.
func snapshotArchive(t *testing.T, doc string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	files := []struct {
		name string
		body string
	}{
		{"output/rpki-client.out", "processing time 42s\n"},
		{"output/rpki-client.json", doc},
		{"output/csv/export.csv", "URI,ASN,IP Prefix\n"},
	}
	for _, f := range files {
		hdr := &tar.Header{
			Name:     f.name,
			Mode:     0o644,
			Size:     int64(len(f.body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFromRpkiViewsFile(t *testing.T) {
	archive := snapshotArchive(t, cloudflareStyleDoc)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpki-20240104T000000Z.tgz" {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	date := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	fc := fetch.NewClient("bgpinfo-test", 100)
	trie, err := FromRpkiViewsFile(context.Background(), fc, srv.URL+"/rpki-20240104T000000Z.tgz", date)
	if err != nil {
		t.Fatal(err)
	}

	if got := trie.RoaCount(); got != 2 {
		t.Errorf("got %d ROA entries, want 2", got)
	}
	if got := trie.AspaCount(); got != 1 {
		t.Errorf("got %d ASPA entries, want 1", got)
	}
	if !trie.Date().Equal(date) {
		t.Errorf("trie date = %v, want %v", trie.Date(), date)
	}
}

func TestFromRpkiViewsFileMissingTarget(t *testing.T) {
	// Archive without the output/rpki-client.json entry.
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := "nothing to see\n"
	tw.WriteHeader(&tar.Header{Name: "output/rpki-client.out", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg})
	tw.Write([]byte(body))
	tw.Close()
	gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	fc := fetch.NewClient("bgpinfo-test", 100)
	_, err := FromRpkiViewsFile(context.Background(), fc, srv.URL+"/rpki-x.tgz", time.Now())
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestFromRpkiViewsFilesUnion(t *testing.T) {
	first := snapshotArchive(t, `{"roas": [
		{"prefix": "192.0.2.0/24", "maxLength": 24, "asn": 64496, "ta": "arin"}
	]}`)
	second := snapshotArchive(t, `{"roas": [
		{"prefix": "192.0.2.0/24", "maxLength": 24, "asn": 64496, "ta": "arin"},
		{"prefix": "198.51.100.0/24", "maxLength": 24, "asn": 64497, "ta": "ripe"}
	]}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.tgz":
			w.Write(first)
		case "/b.tgz":
			w.Write(second)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fc := fetch.NewClient("bgpinfo-test", 100)
	trie, err := FromRpkiViewsFiles(context.Background(), fc,
		[]string{srv.URL + "/a.tgz", srv.URL + "/b.tgz"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got := trie.RoaCount(); got != 2 {
		t.Errorf("got %d ROA entries, want 2", got)
	}
}

func TestFromRpkiViewsFilesAnyFailureFatal(t *testing.T) {
	archive := snapshotArchive(t, `{"roas": []}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.tgz" {
			w.Write(archive)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fc := fetch.NewClient("bgpinfo-test", 100)
	_, err := FromRpkiViewsFiles(context.Background(), fc,
		[]string{srv.URL + "/ok.tgz", srv.URL + "/gone.tgz"}, time.Now())
	if err == nil {
		t.Error("expected failure when one archive is missing")
	}
}

// archiveWithoutDataset builds a .tgz whose entries do not include the
// rpki-client JSON document.
func archiveWithoutDataset(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := "processing time 42s\n"
	if err := tw.WriteHeader(&tar.Header{Name: "output/rpki-client.out", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func candidateList(srvURL string, date time.Time, names ...string) []model.RpkiFile {
	files := make([]model.RpkiFile, 0, len(names))
	for i, name := range names {
		files = append(files, model.RpkiFile{
			URL:       srvURL + "/" + name,
			Timestamp: date.Add(time.Duration(i) * time.Hour),
		})
	}
	return files
}

func TestCandidateRecoverySkipsMissingDataset(t *testing.T) {
	bad := archiveWithoutDataset(t)
	good := snapshotArchive(t, cloudflareStyleDoc)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty.tgz":
			w.Write(bad)
		case "/full.tgz":
			w.Write(good)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	date := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	fc := fetch.NewClient("bgpinfo-test", 100)
	files := candidateList(srv.URL, date, "empty.tgz", "full.tgz")
	trie, err := fromCandidateFiles(context.Background(), fc, files, date, "sobornost.net")
	if err != nil {
		t.Fatal(err)
	}
	if got := trie.RoaCount(); got != 2 {
		t.Errorf("got %d ROA entries, want 2", got)
	}
}

func TestCandidateRecoverySkipsFetchFailure(t *testing.T) {
	good := snapshotArchive(t, cloudflareStyleDoc)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/full.tgz" {
			w.Write(good)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	date := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	fc := fetch.NewClient("bgpinfo-test", 100)
	files := candidateList(srv.URL, date, "gone.tgz", "full.tgz")
	trie, err := fromCandidateFiles(context.Background(), fc, files, date, "sobornost.net")
	if err != nil {
		t.Fatal(err)
	}
	if got := trie.RoaCount(); got != 2 {
		t.Errorf("got %d ROA entries, want 2", got)
	}
}

func TestCandidateRecoveryAbortsOnMalformedDataset(t *testing.T) {
	malformed := snapshotArchive(t, `{"roas": [{"prefix": "not-a-prefix"`)
	var laterFetched bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/later.tgz" {
			laterFetched = true
		}
		w.Write(malformed)
	}))
	defer srv.Close()

	date := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	fc := fetch.NewClient("bgpinfo-test", 100)
	files := candidateList(srv.URL, date, "broken.tgz", "later.tgz")
	_, err := fromCandidateFiles(context.Background(), fc, files, date, "sobornost.net")
	if !errors.Is(err, model.ErrFormat) {
		t.Fatalf("got %v, want ErrFormat", err)
	}
	if laterFetched {
		t.Error("a malformed dataset must abort, not fall through to the next candidate")
	}
}

func TestCandidateRecoveryAllSkippedIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	date := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	fc := fetch.NewClient("bgpinfo-test", 100)
	files := candidateList(srv.URL, date, "a.tgz", "b.tgz")
	_, err := fromCandidateFiles(context.Background(), fc, files, date, "sobornost.net")
	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Errorf("got %v, want ErrSourceUnavailable", err)
	}
}

func TestProbeCandidatesCarriesSizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rpki-20240104T000000Z.tgz":
			w.Header().Set("Content-Length", "1048576")
			w.WriteHeader(http.StatusOK)
		case "/rpki-20240104T010000Z.tgz":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	date := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	urls := []string{
		srv.URL + "/rpki-20240104T000000Z.tgz",
		srv.URL + "/rpki-20240104T010000Z.tgz",
		srv.URL + "/rpki-20240104T020000Z.tgz",
	}
	stamps := []time.Time{date, date.Add(time.Hour), date.Add(2 * time.Hour)}

	fc := fetch.NewClient("bgpinfo-test", 100)
	files, err := probeCandidates(context.Background(), fc, urls, stamps, "sobornost.net")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].Size != 1048576 {
		t.Errorf("got size %d, want 1048576", files[0].Size)
	}
	if files[1].Size != 0 {
		t.Errorf("got size %d for unsized candidate, want 0", files[1].Size)
	}
	if files[0].Collector != "sobornost.net" {
		t.Errorf("got collector %q", files[0].Collector)
	}
	if !files[0].Timestamp.Before(files[1].Timestamp) {
		t.Error("files not in chronological order")
	}
}

func TestHistoricalSource(t *testing.T) {
	ripe := RipeSource()
	if ripe.String() != "RIPE NCC" {
		t.Errorf("got %q, want RIPE NCC", ripe.String())
	}
	views := RpkiViewsSource(CollectorAttn)
	if views.String() != "RPKIviews (attn.jp)" {
		t.Errorf("got %q, want RPKIviews (attn.jp)", views.String())
	}
}
