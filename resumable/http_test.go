package resumable

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *Engine) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, "stored %d bytes: %s", len(body), body)
	})
	e := NewEngine(Options{Expiry: time.Minute}, HandlerPipeline(mux))
	srv := httptest.NewServer(NewHandler(e, mux))
	t.Cleanup(srv.Close)
	return srv, e
}

func doRequest(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHTTPPassThrough(t *testing.T) {
	srv, e := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/upload", strings.NewReader("plain"))
	resp, body := doRequest(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stored 5 bytes: plain", body)
	assert.Equal(t, 0, e.Registry().Len())
}

func TestHTTPSingleShotUpload(t *testing.T) {
	srv, _ := newTestServer(t)

	var mu sync.Mutex
	var interim []int
	var location string
	trace := &httptrace.ClientTrace{
		Got1xxResponse: func(code int, header textproto.MIMEHeader) error {
			mu.Lock()
			defer mu.Unlock()
			interim = append(interim, code)
			location = header.Get(HeaderLocation)
			return nil
		},
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/upload", strings.NewReader("hello"))
	req.Header.Set(HeaderInteropVersion, InteropVersion3)
	req.Header.Set(HeaderUploadIncomplete, "?0")
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, body := doRequest(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stored 5 bytes: hello", body)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{StatusUploadResumptionSupported}, interim)
	assert.True(t, strings.HasPrefix(location, srv.URL+DefaultPathPrefix), location)
}

func TestHTTPChunkedUpload(t *testing.T) {
	srv, e := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/upload", strings.NewReader("abc"))
	req.Header.Set(HeaderInteropVersion, InteropVersion4)
	req.Header.Set(HeaderUploadComplete, "?0")
	resp, body := doRequest(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	location := resp.Header.Get(HeaderLocation)
	require.True(t, strings.HasPrefix(location, srv.URL+DefaultPathPrefix), location)
	assert.Equal(t, "3", resp.Header.Get(HeaderUploadOffset))
	assert.Equal(t, "?0", resp.Header.Get(HeaderUploadComplete))
	assert.Equal(t, 1, e.Registry().Len())

	req, _ = http.NewRequest(http.MethodHead, location, nil)
	req.Header.Set(HeaderInteropVersion, InteropVersion4)
	resp, _ = doRequest(t, req)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get(HeaderUploadOffset))
	assert.Equal(t, "no-store", resp.Header.Get(HeaderCacheControl))

	req, _ = http.NewRequest(http.MethodPatch, location, bytes.NewReader([]byte("def")))
	req.Header.Set(HeaderInteropVersion, InteropVersion4)
	req.Header.Set(HeaderUploadComplete, "?1")
	req.Header.Set(HeaderUploadOffset, "3")
	resp, body = doRequest(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stored 6 bytes: abcdef", body)
	assert.Eventually(t, func() bool { return e.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHTTPOffsetConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/upload", strings.NewReader("abc"))
	req.Header.Set(HeaderInteropVersion, InteropVersion3)
	req.Header.Set(HeaderUploadIncomplete, "?1")
	resp, _ := doRequest(t, req)
	location := resp.Header.Get(HeaderLocation)

	req, _ = http.NewRequest(http.MethodPatch, location, strings.NewReader("xyz"))
	req.Header.Set(HeaderInteropVersion, InteropVersion3)
	req.Header.Set(HeaderUploadIncomplete, "?0")
	req.Header.Set(HeaderUploadOffset, "1")
	resp, body := doRequest(t, req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get(HeaderUploadOffset))
	assert.Equal(t, "?1", resp.Header.Get(HeaderUploadIncomplete))
	assert.Contains(t, body, "mismatching Upload-Offset value")
}

func TestHTTPCancel(t *testing.T) {
	srv, e := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/upload", strings.NewReader("abc"))
	req.Header.Set(HeaderInteropVersion, InteropVersion3)
	req.Header.Set(HeaderUploadIncomplete, "?1")
	resp, _ := doRequest(t, req)
	location := resp.Header.Get(HeaderLocation)

	req, _ = http.NewRequest(http.MethodDelete, location, nil)
	req.Header.Set(HeaderInteropVersion, InteropVersion3)
	resp, _ = doRequest(t, req)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, e.Registry().Len())

	req, _ = http.NewRequest(http.MethodHead, location, nil)
	req.Header.Set(HeaderInteropVersion, InteropVersion3)
	resp, _ = doRequest(t, req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestFromHTTP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPatch, "http://example.com/resumable_upload/abc?x=1", strings.NewReader("data"))
	req := RequestFromHTTP(r)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "http", req.Scheme)
	assert.Equal(t, "example.com", req.Authority)
	assert.Equal(t, "/resumable_upload/abc?x=1", req.Path)
	assert.Equal(t, "4", req.Header.Get(HeaderContentLength))

	r = httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	assert.Equal(t, "https", RequestFromHTTP(r).Scheme)
}
