package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/license-console/license-console/internal/config"
)

// blobMock imitates enough of the Blob REST API for object CRUD. Keys are container/blob.
type blobMock struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	metadata map[string]map[string]string
	failHead bool
}

func (m *blobMock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")

	m.mu.Lock()
	defer m.mu.Unlock()

	notFound := func() {
		w.Header().Set("x-ms-error-code", "BlobNotFound")
		w.WriteHeader(http.StatusNotFound)
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for k, v := range r.Header {
			lk := strings.ToLower(k)
			if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
				meta[strings.TrimPrefix(lk, "x-ms-meta-")] = v[0]
			}
		}
		m.blobs[key] = data
		m.metadata[key] = meta
		w.WriteHeader(http.StatusCreated)

	case http.MethodGet:
		b, ok := m.blobs[key]
		if !ok {
			notFound()
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)

	case http.MethodHead:
		if m.failHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		b, ok := m.blobs[key]
		if !ok {
			notFound()
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b)))
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		if _, ok := m.blobs[key]; !ok {
			notFound()
			return
		}
		delete(m.blobs, key)
		w.WriteHeader(http.StatusAccepted)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStorage(t *testing.T) (*AzureStorage, *blobMock) {
	t.Helper()
	mock := &blobMock{blobs: map[string][]byte{}, metadata: map[string]map[string]string{}}
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	require.NoError(t, err)
	return newWithClient(client, "archives"), mock
}

func TestUploadDownloadDeleteAndExists(t *testing.T) {
	s, mock := newTestStorage(t)
	ctx := context.Background()
	data := []byte("id,actor\n1,admin\n")

	res, err := s.Upload(ctx, "audit-archive/2026-03-01.csv", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Len(t, res.Checksum, 64)

	mock.mu.Lock()
	assert.Equal(t, res.Checksum, mock.metadata["archives/audit-archive/2026-03-01.csv"]["sha256"])
	mock.mu.Unlock()

	rc, err := s.Download(ctx, "audit-archive/2026-03-01.csv")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	exists, err := s.Exists(ctx, "audit-archive/2026-03-01.csv")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "audit-archive/2026-03-01.csv"))

	exists, err = s.Exists(ctx, "audit-archive/2026-03-01.csv")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDelete_MissingBlobIsNotAnError(t *testing.T) {
	s, _ := newTestStorage(t)
	assert.NoError(t, s.Delete(context.Background(), "never-written.csv"))
}

func TestExists_PropagatesServerErrors(t *testing.T) {
	s, mock := newTestStorage(t)
	mock.failHead = true

	exists, err := s.Exists(context.Background(), "day.csv")
	assert.Error(t, err)
	assert.False(t, exists)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AzureStorageConfig
		wantErr string
	}{
		{"missing account name", config.AzureStorageConfig{AccountKey: "a2V5", ContainerName: "c"}, "account name"},
		{"missing account key", config.AzureStorageConfig{AccountName: "acct", ContainerName: "c"}, "account key"},
		{"missing container", config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5"}, "container name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := New(&cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
