package resumable

import (
	"fmt"
	"net/http"
	"strconv"

	mapset "github.com/deckarep/golang-set"
)

const (
	HeaderInteropVersion   = "Upload-Draft-Interop-Version"
	HeaderUploadIncomplete = "Upload-Incomplete"
	HeaderUploadComplete   = "Upload-Complete"
	HeaderUploadOffset     = "Upload-Offset"
	HeaderLocation         = "Location"
	HeaderContentLength    = "Content-Length"
	HeaderContentType      = "Content-Type"
	HeaderCacheControl     = "Cache-Control"

	// InteropVersion3 carries the completion state in Upload-Incomplete.
	InteropVersion3 = "3"
	// InteropVersion4 carries it inverted in Upload-Complete.
	InteropVersion4 = "4"

	StatusUploadResumptionSupported = 104
)

// DefaultInteropVersions lists the draft versions the engine speaks unless configured otherwise.
var DefaultInteropVersions = []string{InteropVersion3, InteropVersion4}

// Fields holds the upload header fields decoded from one request head.
type Fields struct {
	// Version is empty when the request does not take part in the protocol.
	Version string
	// MoreData is true when the body of this exchange is not the last chunk.
	MoreData      bool
	HasCompletion bool
	Offset        int64
	HasOffset     bool
	// ContentLength is -1 when the exchange does not declare a length.
	ContentLength int64
}

// ParseBool decodes a structured field boolean.
func ParseBool(v string) (bool, error) {
	switch v {
	case "?1":
		return true, nil
	case "?0":
		return false, nil
	}
	return false, fmt.Errorf("%w: invalid boolean %q", ErrMalformedHeader, v)
}

// FormatBool encodes a structured field boolean.
func FormatBool(b bool) string {
	if b {
		return "?1"
	}
	return "?0"
}

// ParseOffset decodes a non-negative decimal integer. Signs and whitespace are rejected.
func ParseOffset(v string) (int64, error) {
	if v == "" {
		return 0, fmt.Errorf("%w: empty integer", ErrMalformedHeader)
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, fmt.Errorf("%w: invalid integer %q", ErrMalformedHeader, v)
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer %q", ErrMalformedHeader, v)
	}
	return n, nil
}

// ParseContentLength returns -1 when the field is absent.
func ParseContentLength(h http.Header) (int64, error) {
	v := h.Get(HeaderContentLength)
	if v == "" {
		return -1, nil
	}
	return ParseOffset(v)
}

func newVersionSet(versions []string) mapset.Set {
	if len(versions) == 0 {
		versions = DefaultInteropVersions
	}
	set := mapset.NewSet()
	for _, v := range versions {
		set.Add(v)
	}
	return set
}

// ParseFields decodes the protocol fields of a request head. Fields.Version stays
// empty when the interop version is absent or not contained in supported; the other
// fields are only decoded for participating requests. A decoding failure returns the
// partially filled Fields together with an ErrMalformedHeader error.
func ParseFields(h http.Header, supported mapset.Set) (Fields, error) {
	f := Fields{ContentLength: -1}
	version := h.Get(HeaderInteropVersion)
	if version == "" || !supported.Contains(version) {
		return f, nil
	}
	f.Version = version

	var err error
	if f.ContentLength, err = ParseContentLength(h); err != nil {
		f.ContentLength = -1
		return f, fmt.Errorf("%s: %w", HeaderContentLength, err)
	}
	if v := h.Get(HeaderUploadOffset); v != "" {
		if f.Offset, err = ParseOffset(v); err != nil {
			return f, fmt.Errorf("%s: %w", HeaderUploadOffset, err)
		}
		f.HasOffset = true
	}
	name := completionField(version)
	if v := h.Get(name); v != "" {
		b, err := ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("%s: %w", name, err)
		}
		f.HasCompletion = true
		if name == HeaderUploadComplete {
			f.MoreData = !b
		} else {
			f.MoreData = b
		}
	}
	return f, nil
}

func completionField(version string) string {
	if version == InteropVersion3 {
		return HeaderUploadIncomplete
	}
	return HeaderUploadComplete
}

// SetCompletion writes the completion state in the field the given version uses.
func SetCompletion(h http.Header, version string, complete bool) {
	name := completionField(version)
	if name == HeaderUploadComplete {
		h.Set(name, FormatBool(complete))
		return
	}
	h.Set(name, FormatBool(!complete))
}

// StripCompletion removes the protocol-internal completion fields from a head
// before it is handed downstream.
func StripCompletion(h http.Header) {
	h.Del(HeaderUploadIncomplete)
	h.Del(HeaderUploadComplete)
}
