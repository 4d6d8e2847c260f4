package resumable

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	e := NewEngine(Options{}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		header http.Header
		want   Kind
		token  string
	}{
		{
			name:   "plain request",
			method: http.MethodGet,
			path:   "/index.html",
			header: header(),
			want:   PassThrough,
		},
		{
			name:   "post without interop version",
			method: http.MethodPost,
			path:   "/upload",
			header: header(HeaderUploadIncomplete, "?0"),
			want:   PassThrough,
		},
		{
			name:   "new upload",
			method: http.MethodPost,
			path:   "/upload",
			header: header(HeaderInteropVersion, "3", HeaderUploadIncomplete, "?0"),
			want:   NewUpload,
		},
		{
			name:   "new upload interop 4",
			method: http.MethodPost,
			path:   "/upload",
			header: header(HeaderInteropVersion, "4", HeaderUploadComplete, "?0"),
			want:   NewUpload,
		},
		{
			name:   "post missing completion field degrades",
			method: http.MethodPost,
			path:   "/upload",
			header: header(HeaderInteropVersion, "3"),
			want:   PassThrough,
		},
		{
			name:   "post with malformed completion field degrades",
			method: http.MethodPost,
			path:   "/upload",
			header: header(HeaderInteropVersion, "3", HeaderUploadIncomplete, "true"),
			want:   PassThrough,
		},
		{
			name:   "query",
			method: http.MethodHead,
			path:   "/resumable_upload/abc",
			header: header(HeaderInteropVersion, "3"),
			want:   ResumeQuery,
			token:  "abc",
		},
		{
			name:   "query with query string",
			method: http.MethodHead,
			path:   "/resumable_upload/abc?x=1",
			header: header(HeaderInteropVersion, "3"),
			want:   ResumeQuery,
			token:  "abc",
		},
		{
			name:   "patch",
			method: http.MethodPatch,
			path:   "/resumable_upload/abc",
			header: header(HeaderInteropVersion, "3", HeaderUploadIncomplete, "?0", HeaderUploadOffset, "10"),
			want:   ResumePatch,
			token:  "abc",
		},
		{
			name:   "patch missing offset",
			method: http.MethodPatch,
			path:   "/resumable_upload/abc",
			header: header(HeaderInteropVersion, "3", HeaderUploadIncomplete, "?0"),
			want:   Malformed,
			token:  "abc",
		},
		{
			name:   "patch missing completion field",
			method: http.MethodPatch,
			path:   "/resumable_upload/abc",
			header: header(HeaderInteropVersion, "3", HeaderUploadOffset, "10"),
			want:   Malformed,
			token:  "abc",
		},
		{
			name:   "cancel",
			method: http.MethodDelete,
			path:   "/resumable_upload/abc",
			header: header(HeaderInteropVersion, "4"),
			want:   ResumeCancel,
			token:  "abc",
		},
		{
			name:   "get on resumption path",
			method: http.MethodGet,
			path:   "/resumable_upload/abc",
			header: header(HeaderInteropVersion, "3"),
			want:   PassThrough,
		},
		{
			name:   "patch outside the resumption prefix",
			method: http.MethodPatch,
			path:   "/files/abc",
			header: header(HeaderInteropVersion, "3", HeaderUploadIncomplete, "?0", HeaderUploadOffset, "10"),
			want:   PassThrough,
		},
		{
			name:   "nested path is not a token",
			method: http.MethodHead,
			path:   "/resumable_upload/abc/def",
			header: header(HeaderInteropVersion, "3"),
			want:   PassThrough,
		},
		{
			name:   "empty token",
			method: http.MethodHead,
			path:   "/resumable_upload/",
			header: header(HeaderInteropVersion, "3"),
			want:   PassThrough,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Classify(&Request{Method: tt.method, Path: tt.path, Header: tt.header})
			assert.Equal(t, tt.want, got.Kind, got.Kind.String())
			assert.Equal(t, tt.token, got.Token)
			if tt.want == Malformed {
				assert.True(t, errors.Is(got.Err, ErrMalformedHeader))
			}
		})
	}
}

func TestClassifyMalformedNamesField(t *testing.T) {
	e := NewEngine(Options{}, nil)
	got := e.Classify(&Request{
		Method: http.MethodPatch,
		Path:   "/resumable_upload/abc",
		Header: header(HeaderInteropVersion, "4", HeaderUploadOffset, "1"),
	})
	assert.Equal(t, Malformed, got.Kind)
	assert.Contains(t, got.Err.Error(), HeaderUploadComplete)
}

func TestPathPrefixNormalized(t *testing.T) {
	e := NewEngine(Options{PathPrefix: "uploads"}, nil)
	assert.Equal(t, "/uploads/", e.PathPrefix())

	token, ok := e.tokenFromPath("/uploads/xyz")
	assert.True(t, ok)
	assert.Equal(t, "xyz", token)

	assert.Equal(t, "http://localhost:8080/uploads/xyz",
		e.resumptionURL(&Request{Authority: "localhost:8080"}, "xyz"))

	e = NewEngine(Options{Origin: "https://example.com/"}, nil)
	assert.Equal(t, "https://example.com/resumable_upload/xyz",
		e.resumptionURL(&Request{Scheme: "http", Authority: "internal:80"}, "xyz"))
}
