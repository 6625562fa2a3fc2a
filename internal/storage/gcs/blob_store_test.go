package gcs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeGCS answers bucket lookups and both upload styles of the JSON API.
type fakeGCS struct {
	mu      sync.Mutex
	uploads [][]byte
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet:
		_, _ = io.WriteString(w, `{"name":"races"}`)
	case r.URL.Query().Get("uploadType") == "resumable" && r.Method == http.MethodPost:
		w.Header().Set("Location", "http://"+r.Host+"/resumable/session")
		w.WriteHeader(http.StatusOK)
	default:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploads = append(f.uploads, body)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"bucket":"races","name":"raw/20240115/12/1.html"}`)
	}
}

func (f *fakeGCS) received(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.uploads {
		if bytes.Contains(u, payload) {
			return true
		}
	}
	return false
}

func newFakeClient(t *testing.T) (*storage.Client, *fakeGCS) {
	t.Helper()
	fake := &fakeGCS{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, fake
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "races"})
	require.Error(t, err)

	client, _ := newFakeClient(t)
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	client, fake := newFakeClient(t)
	store, err := New(client, Config{Bucket: "races"})
	require.NoError(t, err)

	payload := []byte("<html>race 1</html>")
	uri, err := store.PutObject(context.Background(), "raw/20240115/12/1.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://races/raw/20240115/12/1.html", uri)
	assert.True(t, fake.received(payload))
	require.NoError(t, store.Close())
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t)
	store, err := New(client, Config{Bucket: "races"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "text/html", bytes.NewReader(nil))
	require.Error(t, err)
}
