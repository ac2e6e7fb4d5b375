package blobstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func TestDirStoreWritesBlob(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)

	url, err := store.Upload(context.Background(), []byte("audio"), "interview-1.wav", "audio/wav")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "interview-1.wav") {
		t.Fatalf("unexpected url %q", url)
	}

	data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "audio" {
		t.Fatalf("unexpected blob contents %q", data)
	}
}

func TestDirStoreRejectsEscapingKeys(t *testing.T) {
	store := NewDirStore(t.TempDir())
	for _, key := range []string{"", "../outside.wav", "/etc/passwd"} {
		if _, err := store.Upload(context.Background(), []byte("x"), key, ""); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", key, err)
		}
	}
}

func TestDriveStoreCreatesThenUpdates(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	var bodies []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		methods = append(methods, r.Method)
		bodies = append(bodies, string(body))
		mu.Unlock()

		if !strings.Contains(r.URL.Path, "/upload/drive/v3/files") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"file-1","webViewLink":"https://drive.example/file-1"}`)
	}))
	defer srv.Close()

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/drive/v3/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("drive.NewService failed: %v", err)
	}
	store := NewDriveStoreWithService(svc, "folder-9")

	for i := 0; i < 2; i++ {
		url, err := store.Upload(context.Background(), []byte("recording-bytes"), "interview-1.wav", "audio/wav")
		if err != nil {
			t.Fatalf("Upload %d failed: %v", i, err)
		}
		if url != "https://drive.example/file-1" {
			t.Fatalf("unexpected url %q", url)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 2 || methods[0] != http.MethodPost || methods[1] != http.MethodPatch {
		t.Fatalf("expected create then update, got %v", methods)
	}
	if !strings.Contains(bodies[0], "folder-9") || !strings.Contains(bodies[0], "recording-bytes") {
		t.Fatalf("expected metadata and media in create body, got %q", bodies[0])
	}
}
