package rpki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/model"
)

func TestRipeFileURL(t *testing.T) {
	date := time.Date(2023, 11, 5, 16, 30, 0, 0, time.UTC)
	got := ripeFileURL(model.RirRipencc, date)
	want := "https://ftp.ripe.net/rpki/ripencc.tal/2023/11/05/output.json.xz"
	if got != want {
		t.Errorf("got %s\nwant %s", got, want)
	}
}

func TestListRipeFiles(t *testing.T) {
	date := time.Date(2023, 11, 5, 16, 30, 0, 0, time.UTC)
	files := ListRipeFiles(date)

	if len(files) != 5 {
		t.Fatalf("got %d files, want one per RIR", len(files))
	}
	midnight := time.Date(2023, 11, 5, 0, 0, 0, 0, time.UTC)
	seen := make(map[model.Rir]bool)
	for _, f := range files {
		if !f.Timestamp.Equal(midnight) {
			t.Errorf("%s: timestamp %v, want midnight UTC", f.URL, f.Timestamp)
		}
		seen[f.RIR] = true
	}
	if len(seen) != 5 {
		t.Errorf("got %d distinct RIRs, want 5", len(seen))
	}
}

func TestFromRipeFiles(t *testing.T) {
	// Plain JSON under non-.xz paths so no decompression layer applies.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a/output.json":
			w.Write([]byte(`{"roas": [{"prefix": "192.0.2.0/24", "maxLength": 24, "asn": "AS64496", "ta": "ripe"}]}`))
		case "/b/output.json":
			w.Write([]byte(`{"roas": [
				{"prefix": "192.0.2.0/24", "maxLength": 24, "asn": "AS64496", "ta": "ripe"},
				{"prefix": "203.0.113.0/24", "maxLength": 28, "asn": "AS64497", "ta": "apnic"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	date := time.Date(2023, 11, 5, 0, 0, 0, 0, time.UTC)
	fc := fetch.NewClient("bgpinfo-test", 100)
	trie, err := FromRipeFiles(context.Background(), fc,
		[]string{srv.URL + "/a/output.json", srv.URL + "/b/output.json"}, date)
	if err != nil {
		t.Fatal(err)
	}

	if got := trie.RoaCount(); got != 2 {
		t.Errorf("got %d ROA entries, want 2 after dedup", got)
	}
	if got := trie.Validate(mustPrefix(t, "203.0.113.0/26"), 64497); got != model.ValidationValid {
		t.Errorf("got %s, want valid", got)
	}
	if !trie.Date().Equal(date) {
		t.Errorf("trie date = %v, want %v", trie.Date(), date)
	}
}

func TestFromRipeFilesFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	fc := fetch.NewClient("bgpinfo-test", 100)
	_, err := FromRipeFiles(context.Background(), fc, []string{srv.URL + "/missing.json"}, time.Now())
	if err == nil {
		t.Error("expected error for missing archive file")
	}
}
