package resumable

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testOrigin = "https://example.com"

// recorder is the transport side of a test connection.
type recorder struct {
	mu    sync.Mutex
	parts []ResponsePart
	err   error
}

func (r *recorder) WriteResponse(part ResponsePart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.parts = append(r.parts, part)
	return nil
}

func (r *recorder) heads() []*Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	var heads []*Response
	for _, p := range r.parts {
		if p.Kind == HeadPart {
			heads = append(heads, p.Head)
		}
	}
	return heads
}

func (r *recorder) statuses() []int {
	var codes []int
	for _, h := range r.heads() {
		codes = append(codes, h.Status)
	}
	return codes
}

// final returns the last final head written.
func (r *recorder) final() *Response {
	heads := r.heads()
	for i := len(heads) - 1; i >= 0; i-- {
		if !heads[i].informational() {
			return heads[i]
		}
	}
	return nil
}

func (r *recorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, p := range r.parts {
		if p.Kind == BodyPart {
			b.Write(p.Body)
		}
	}
	return b.String()
}

func (r *recorder) ends() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.parts {
		if p.Kind == EndPart {
			n++
		}
	}
	return n
}

// fakePipeline records what reaches downstream and, unless manual, answers at End.
type fakePipeline struct {
	w      Writer
	manual bool

	mu       sync.Mutex
	heads    []*Request
	body     bytes.Buffer
	ended    bool
	canceled error
}

func (p *fakePipeline) Head(req *Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heads = append(p.heads, req)
	return nil
}

func (p *fakePipeline) Body(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.body.Write(b)
	return nil
}

func (p *fakePipeline) End(trailer http.Header) error {
	p.mu.Lock()
	p.ended = true
	manual := p.manual
	p.mu.Unlock()
	if manual {
		return nil
	}
	return p.respond()
}

func (p *fakePipeline) Cancel(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = err
}

func (p *fakePipeline) respond() error {
	p.mu.Lock()
	msg := fmt.Sprintf("received %d bytes", p.body.Len())
	p.mu.Unlock()
	return writeResponse(p.w, http.StatusOK, http.Header{"Content-Type": {"text/plain"}}, []byte(msg))
}

func (p *fakePipeline) received() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body.String()
}

func (p *fakePipeline) cancelErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canceled
}

type downstream struct {
	mu        sync.Mutex
	manual    bool
	pipelines []*fakePipeline
}

func (d *downstream) factory(w Writer) Pipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &fakePipeline{w: w, manual: d.manual}
	d.pipelines = append(d.pipelines, p)
	return p
}

func (d *downstream) setManual(manual bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manual = manual
}

func (d *downstream) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pipelines)
}

func (d *downstream) last() *fakePipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelines[len(d.pipelines)-1]
}

func newTestEngine(d *downstream, expiry time.Duration) *Engine {
	return NewEngine(Options{Origin: testOrigin, Expiry: expiry}, d.factory)
}

func newTestConn(e *Engine) (*Conn, *recorder) {
	rec := &recorder{}
	return e.NewConn(rec), rec
}

func postHead(version string, complete bool, n int) *Request {
	h := header(HeaderInteropVersion, version, HeaderContentLength, strconv.Itoa(n), "X-Custom", "kept")
	SetCompletion(h, version, complete)
	return &Request{Method: http.MethodPost, Scheme: "https", Authority: "example.com", Path: "/upload", Header: h}
}

func patchHead(token, version string, offset int64, complete bool, n int) *Request {
	h := header(HeaderInteropVersion, version, HeaderUploadOffset, strconv.FormatInt(offset, 10),
		HeaderContentLength, strconv.Itoa(n))
	SetCompletion(h, version, complete)
	return &Request{Method: http.MethodPatch, Scheme: "https", Authority: "example.com", Path: DefaultPathPrefix + token, Header: h}
}

func resumptionHead(method, token, version string) *Request {
	return &Request{Method: method, Scheme: "https", Authority: "example.com", Path: DefaultPathPrefix + token,
		Header: header(HeaderInteropVersion, version)}
}

// send writes a whole request, one body part per chunk.
func send(t *testing.T, c *Conn, head *Request, chunks ...string) {
	t.Helper()
	require.NoError(t, c.Receive(RequestPart{Kind: HeadPart, Head: head}))
	for _, chunk := range chunks {
		require.NoError(t, c.Receive(RequestPart{Kind: BodyPart, Body: []byte(chunk)}))
	}
	require.NoError(t, c.Receive(RequestPart{Kind: EndPart}))
}

// sendPartial writes a head and body chunks but no end.
func sendPartial(t *testing.T, c *Conn, head *Request, chunks ...string) {
	t.Helper()
	require.NoError(t, c.Receive(RequestPart{Kind: HeadPart, Head: head}))
	for _, chunk := range chunks {
		require.NoError(t, c.Receive(RequestPart{Kind: BodyPart, Body: []byte(chunk)}))
	}
}

// tokenOf extracts the upload token from the 104 sent on rec.
func tokenOf(t *testing.T, rec *recorder) string {
	t.Helper()
	heads := rec.heads()
	require.NotEmpty(t, heads)
	require.Equal(t, StatusUploadResumptionSupported, heads[0].Status)
	loc := heads[0].Header.Get(HeaderLocation)
	require.True(t, strings.HasPrefix(loc, testOrigin+DefaultPathPrefix), loc)
	return strings.TrimPrefix(loc, testOrigin+DefaultPathPrefix)
}
