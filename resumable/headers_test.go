package resumable

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{in: "?1", want: true},
		{in: "?0", want: false},
		{in: "?2", wantErr: true},
		{in: "1", wantErr: true},
		{in: "true", wantErr: true},
		{in: " ?1", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBool(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrMalformedHeader))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, FormatBool(got))
		})
	}
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "12345", want: 12345},
		{in: "9223372036854775807", want: 9223372036854775807},
		{in: "9223372036854775808", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "+1", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "12 ", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOffset(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrMalformedHeader))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestParseFields(t *testing.T) {
	supported := newVersionSet(nil)

	t.Run("no interop version", func(t *testing.T) {
		f, err := ParseFields(header(HeaderUploadIncomplete, "?1"), supported)
		require.NoError(t, err)
		assert.Empty(t, f.Version)
		assert.False(t, f.HasCompletion)
	})

	t.Run("unsupported interop version", func(t *testing.T) {
		f, err := ParseFields(header(HeaderInteropVersion, "2", HeaderUploadIncomplete, "?1"), supported)
		require.NoError(t, err)
		assert.Empty(t, f.Version)
	})

	t.Run("interop 3", func(t *testing.T) {
		f, err := ParseFields(header(
			HeaderInteropVersion, "3",
			HeaderUploadIncomplete, "?1",
			HeaderUploadOffset, "42",
			HeaderContentLength, "7",
		), supported)
		require.NoError(t, err)
		assert.Equal(t, InteropVersion3, f.Version)
		assert.True(t, f.HasCompletion)
		assert.True(t, f.MoreData)
		assert.True(t, f.HasOffset)
		assert.Equal(t, int64(42), f.Offset)
		assert.Equal(t, int64(7), f.ContentLength)
	})

	t.Run("interop 4 is inverted", func(t *testing.T) {
		f, err := ParseFields(header(HeaderInteropVersion, "4", HeaderUploadComplete, "?1"), supported)
		require.NoError(t, err)
		assert.True(t, f.HasCompletion)
		assert.False(t, f.MoreData)
		assert.Equal(t, int64(-1), f.ContentLength)

		f, err = ParseFields(header(HeaderInteropVersion, "4", HeaderUploadComplete, "?0"), supported)
		require.NoError(t, err)
		assert.True(t, f.MoreData)
	})

	t.Run("interop 4 ignores the interop 3 field", func(t *testing.T) {
		f, err := ParseFields(header(HeaderInteropVersion, "4", HeaderUploadIncomplete, "?1"), supported)
		require.NoError(t, err)
		assert.False(t, f.HasCompletion)
	})

	t.Run("malformed boolean", func(t *testing.T) {
		_, err := ParseFields(header(HeaderInteropVersion, "3", HeaderUploadIncomplete, "yes"), supported)
		assert.True(t, errors.Is(err, ErrMalformedHeader))
		assert.Contains(t, err.Error(), HeaderUploadIncomplete)
	})

	t.Run("malformed offset", func(t *testing.T) {
		_, err := ParseFields(header(HeaderInteropVersion, "3", HeaderUploadOffset, "-3"), supported)
		assert.True(t, errors.Is(err, ErrMalformedHeader))
		assert.Contains(t, err.Error(), HeaderUploadOffset)
	})

	t.Run("configured versions", func(t *testing.T) {
		f, err := ParseFields(header(HeaderInteropVersion, "4", HeaderUploadComplete, "?1"), newVersionSet([]string{"3"}))
		require.NoError(t, err)
		assert.Empty(t, f.Version)
	})
}

func TestSetCompletion(t *testing.T) {
	h := http.Header{}
	SetCompletion(h, InteropVersion3, false)
	assert.Equal(t, "?1", h.Get(HeaderUploadIncomplete))
	assert.Empty(t, h.Get(HeaderUploadComplete))

	h = http.Header{}
	SetCompletion(h, InteropVersion4, false)
	assert.Equal(t, "?0", h.Get(HeaderUploadComplete))
	assert.Empty(t, h.Get(HeaderUploadIncomplete))

	h.Set(HeaderUploadIncomplete, "?1")
	StripCompletion(h)
	assert.Empty(t, h)
}
