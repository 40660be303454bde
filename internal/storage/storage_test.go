package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genorch/internal/domain"
)

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"a/b.png":      "a/b.png",
		"/a/./b.png":   "a/b.png",
		`a\b.png`:      "a/b.png",
		"./x/../y.png": "y.png",
	}
	for in, want := range cases {
		got, err := sanitizeKey(in)
		if err != nil || got != want {
			t.Fatalf("sanitizeKey(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "..", "../etc/passwd", "a/../../b"} {
		if _, err := sanitizeKey(bad); err == nil {
			t.Fatalf("sanitizeKey(%q) should fail", bad)
		}
	}
}

func TestMaterializeDownloadsAndDataURLs(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	m := NewMaterializer(store, srv.Client(), zerolog.Nop())
	job := &domain.Job{
		ID:      "job-1",
		OwnerID: "owner-1",
		OutputRefs: []string{
			srv.URL + "/out.jpg",
			"data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		},
	}
	assets, err := m.Materialize(context.Background(), job)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("assets = %d", len(assets))
	}
	if assets[0].StorageKey != "owner-1/job-1/0.jpg" || assets[0].MIME != "image/jpeg" {
		t.Fatalf("asset[0] = %+v", assets[0])
	}
	if assets[1].URL != "http://localhost:8080/static/owner-1/job-1/1.png" || assets[1].SourceURL != "inline" {
		t.Fatalf("asset[1] = %+v", assets[1])
	}
	got, err := os.ReadFile(filepath.Join(dir, "owner-1", "job-1", "1.png"))
	if err != nil || string(got) != string(png) {
		t.Fatalf("stored bytes = %v, %v", got, err)
	}
	if assets[0].ID != AssetID("job-1", 0) || assets[0].ID == assets[1].ID {
		t.Fatal("asset ids must be derived from job and index")
	}
}

func TestMaterializeRejectsFailedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store, _ := NewFileStore(t.TempDir(), "http://x")
	m := NewMaterializer(store, srv.Client(), zerolog.Nop())
	_, err := m.Materialize(context.Background(), &domain.Job{ID: "j", OwnerID: "o", OutputRefs: []string{srv.URL}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFileStoreOpenRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://x")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key, err := store.Write(context.Background(), "/jobs/j1/0.png", []byte("pixels"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	rc, err := store.Open(key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "pixels" {
		t.Fatalf("read %q", data)
	}
	if _, err := store.Open("../escape"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestOSSStoreKeysAndURL(t *testing.T) {
	s := &OSSStore{prefix: "assets", baseURL: "https://cdn.example.com"}
	key, err := s.objectKey("/owner/job/0.png")
	if err != nil || key != "assets/owner/job/0.png" {
		t.Fatalf("objectKey = %q, %v", key, err)
	}
	if got := s.URL("owner/job/0.png"); got != "https://cdn.example.com/assets/owner/job/0.png" {
		t.Fatalf("URL = %q", got)
	}
	if _, err := s.objectKey("../x"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	if _, err := NewOSSStore(OSSOptions{}); err == nil {
		t.Fatal("expected missing bucket to fail")
	}
}

func TestPublicHTTPClientRefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("internal"))
	}))
	defer srv.Close()

	store, _ := NewFileStore(t.TempDir(), "http://x")
	m := NewMaterializer(store, NewPublicHTTPClient(time.Second), zerolog.Nop())
	_, err := m.Materialize(context.Background(), &domain.Job{ID: "j", OwnerID: "o", OutputRefs: []string{srv.URL + "/x.png"}})
	if err == nil || !errors.Is(err, errPrivateAddress) {
		t.Fatalf("err = %v", err)
	}

	for _, ip := range []string{"127.0.0.1", "10.0.0.8", "192.168.1.1", "169.254.169.254", "::1"} {
		if publicIP(net.ParseIP(ip)) {
			t.Fatalf("%s treated as public", ip)
		}
	}
	if !publicIP(net.ParseIP("93.184.216.34")) {
		t.Fatal("public address rejected")
	}
}
