package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "guidevault-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	d := NewDownloader(Config{Timeout: 5 * time.Second, UserAgent: "guidevault-test", Dir: t.TempDir()})
	path, err := d.Download(context.Background(), srv.URL+"/guide.xml")
	require.NoError(t, err)
	defer os.Remove(path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleFeed, string(body))

	n := 0
	for _, err := range DecodeChannelsFile(path) {
		if err == nil {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(Config{Dir: dir})
	_, err := d.Download(context.Background(), srv.URL)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no scratch file is left behind")
}

func TestDownloadBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDownloader(Config{Dir: t.TempDir()})
	for i := 0; i < 5; i++ {
		_, err := d.Download(context.Background(), srv.URL)
		require.Error(t, err)
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
	}
	assert.Equal(t, int32(3), hits.Load(), "breaker opens after three consecutive failures")
}

func TestDownloadInvalidURL(t *testing.T) {
	d := NewDownloader(Config{})
	_, err := d.Download(context.Background(), "not a url")
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestDecodeFileMissing(t *testing.T) {
	for _, err := range DecodeProgramsFile("/nonexistent/feed.xml") {
		require.Error(t, err)
		assert.False(t, IsRecordError(err))
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-1023", r.Header.Get("Range"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	d := NewDownloader(Config{})
	res := d.Probe(context.Background(), srv.URL)
	assert.True(t, res.Success)
	assert.Equal(t, "online", res.Status)
	assert.True(t, res.IsXMLTV)
	assert.Equal(t, "application/xml", res.ContentType)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()
	res = d.Probe(context.Background(), bad.URL)
	assert.False(t, res.Success)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}
