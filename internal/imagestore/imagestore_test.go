package imagestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/campusfind/internal/imaging"
	"github.com/hitoshi/campusfind/internal/model"
)

// --- テスト用モック ---

type mockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockStore() *mockStore {
	return &mockStore{objects: make(map[string][]byte)}
}

func (m *mockStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "https://img.example.com/" + key, nil
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// openGuard はテスト用にすべてのURLを許可するSSRFGuardService。
type openGuard struct{}

func (openGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (openGuard) ValidateURL(string) error { return nil }

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 'j', 'p', 'g'}

// --- Cache テスト ---

func TestCache_WriteRead(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	name, err := cache.Write("../../escape.jpg", jpegBytes)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if name != "escape.jpg" {
		t.Errorf("name = %q, want escape.jpg", name)
	}
	got, err := cache.Read(name)
	if err != nil || !bytes.Equal(got, jpegBytes) {
		t.Errorf("Read = %v, %v", got, err)
	}

	for _, bad := range []string{"", "../etc/passwd", "a/b.jpg"} {
		if _, err := cache.Read(bad); err == nil {
			t.Errorf("Read(%q) はエラーになるべき", bad)
		}
	}
}

// --- Library テスト ---

func TestLibrary_SaveWithStore(t *testing.T) {
	store := newMockStore()
	cache, _ := NewCache(t.TempDir())
	lib := NewLibrary(store, cache, openGuard{}, nil)

	stored, err := lib.Save(context.Background(), &imaging.Normalized{Data: jpegBytes, MIME: "image/jpeg"})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !strings.HasPrefix(stored.Key, "items/") || !strings.HasPrefix(stored.URL, "https://img.example.com/items/") {
		t.Errorf("stored = %+v", stored)
	}
	if stored.CachedPath == "" {
		t.Error("キャッシュにも保存されるべき")
	}
}

func TestLibrary_SaveCacheOnly(t *testing.T) {
	cache, _ := NewCache(t.TempDir())
	lib := NewLibrary(nil, cache, nil, nil)

	stored, err := lib.Save(context.Background(), &imaging.Normalized{Data: jpegBytes, MIME: "image/jpeg"})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if stored.Key != "" || stored.URL != CachePathPrefix+stored.CachedPath {
		t.Errorf("stored = %+v", stored)
	}
}

func TestLibrary_SaveStoreFailure(t *testing.T) {
	store := newMockStore()
	store.putErr = errors.New("bucket gone")
	lib := NewLibrary(store, nil, nil, nil)

	if _, err := lib.Save(context.Background(), &imaging.Normalized{Data: jpegBytes}); err == nil {
		t.Fatal("ストレージの失敗はエラーになるべき")
	}
}

func TestLibrary_ResolveOrder(t *testing.T) {
	store := newMockStore()
	store.objects["items/a.jpg"] = []byte("from-store")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ok.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("from-url"))
	}))
	defer srv.Close()

	cache, _ := NewCache(t.TempDir())
	if _, err := cache.Write("c.jpg", []byte("from-cache")); err != nil {
		t.Fatal(err)
	}
	lib := NewLibrary(store, cache, openGuard{}, nil)

	tests := []struct {
		name string
		item model.Item
		want string
	}{
		{"store key first", model.Item{ImageKey: "items/a.jpg", ImageURL: srv.URL + "/ok.jpg", CachedImagePath: "c.jpg"}, "from-store"},
		{"url when key missing", model.Item{ImageKey: "items/missing.jpg", ImageURL: srv.URL + "/ok.jpg", CachedImagePath: "c.jpg"}, "from-url"},
		{"cache last", model.Item{ImageURL: srv.URL + "/gone.jpg", CachedImagePath: "c.jpg"}, "from-cache"},
		{"nothing", model.Item{ImageURL: srv.URL + "/gone.jpg", CachedImagePath: "x.jpg"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, ok := lib.Resolve(context.Background(), &tt.item)
			if tt.want == "" {
				if ok {
					t.Errorf("解決できないべき: %q", img.Data)
				}
				return
			}
			if !ok || string(img.Data) != tt.want {
				t.Errorf("Resolve = %q, %v, want %q", img.Data, ok, tt.want)
			}
		})
	}
}

// --- S3Store テスト ---

func TestS3Store_PutGet(t *testing.T) {
	var mu sync.Mutex
	objects := make(map[string][]byte)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			body, ok := objects[r.URL.Path]
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
				return
			}
			w.Write(body)
		}
	}))
	defer srv.Close()

	store := NewS3Store(S3Config{
		Endpoint:  srv.URL,
		Bucket:    "campusfind",
		AccessKey: "key",
		SecretKey: "secret",
		PublicURL: "https://img.example.com/",
	})

	url, err := store.Put(context.Background(), "items/x.jpg", jpegBytes, "image/jpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "https://img.example.com/items/x.jpg" {
		t.Errorf("url = %q", url)
	}
	mu.Lock()
	_, uploaded := objects["/campusfind/items/x.jpg"]
	mu.Unlock()
	if !uploaded {
		t.Error("パス形式でアップロードされるべき")
	}

	got, err := store.Get(context.Background(), "items/x.jpg")
	if err != nil || !bytes.Equal(got, jpegBytes) {
		t.Errorf("Get = %v, %v", got, err)
	}

	if _, err := store.Get(context.Background(), "items/none.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ErrNotFoundを期待したが %v", err)
	}
}
