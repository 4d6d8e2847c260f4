package resumable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	log "github.com/sjqzhang/seelog"
)

// HandlerPipeline runs h as the downstream of every logical request. The handler
// sees one request whose body spans all chunks of an upload, with unknown length.
func HandlerPipeline(h http.Handler) PipelineFactory {
	return func(w Writer) Pipeline {
		return &handlerPipeline{handler: h, w: w}
	}
}

type handlerPipeline struct {
	handler http.Handler
	w       Writer

	pr      *io.PipeReader
	pw      *io.PipeWriter
	trailer http.Header
	cancel  context.CancelFunc
	done    chan struct{}
}

func (p *handlerPipeline) Head(req *Request) error {
	if p.pw != nil {
		return fmt.Errorf("%w: second head", ErrUnexpectedPart)
	}
	target := req.Path
	if target == "" {
		target = "/"
	}
	ctx, cancel := context.WithCancel(context.Background())
	r, err := http.NewRequestWithContext(ctx, req.Method, target, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	r.Host = req.Authority
	r.RequestURI = target
	r.Header = req.Header.Clone()
	if r.Header == nil {
		r.Header = http.Header{}
	}
	r.ContentLength = -1
	r.Trailer = http.Header{}

	p.pr, p.pw = io.Pipe()
	r.Body = p.pr
	p.trailer = r.Trailer
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.serve(r)
	return nil
}

func (p *handlerPipeline) serve(r *http.Request) {
	rw := &pipelineResponseWriter{w: p.w, header: http.Header{}}
	defer close(p.done)
	defer func() {
		// the handler may stop reading early; the rest of the body still has to be consumed
		_, _ = io.Copy(io.Discard, p.pr)
		p.cancel()
	}()
	defer func() {
		if re := recover(); re != nil {
			log.Errorf("%s %s: handler panic: %v\n%s", r.Method, r.RequestURI, re, debug.Stack())
			rw.abort(fmt.Errorf("handler panic: %v", re))
		}
	}()
	p.handler.ServeHTTP(rw, r)
	rw.finish()
}

func (p *handlerPipeline) Body(b []byte) error {
	if p.pw == nil {
		return fmt.Errorf("%w: body before head", ErrUnexpectedPart)
	}
	_, err := p.pw.Write(b)
	return err
}

func (p *handlerPipeline) End(trailer http.Header) error {
	if p.pw == nil {
		return fmt.Errorf("%w: end before head", ErrUnexpectedPart)
	}
	for k, v := range trailer {
		p.trailer[k] = v
	}
	return p.pw.Close()
}

func (p *handlerPipeline) Cancel(err error) {
	if p.pw == nil {
		return
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	p.cancel()
	p.pw.CloseWithError(err)
}

// pipelineResponseWriter turns http.ResponseWriter calls into response parts.
type pipelineResponseWriter struct {
	w Writer

	mu          sync.Mutex
	header      http.Header
	wroteHeader bool
	ended       bool
	err         error
}

func (rw *pipelineResponseWriter) Header() http.Header {
	return rw.header
}

func (rw *pipelineResponseWriter) WriteHeader(status int) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.writeHeaderLocked(status)
}

func (rw *pipelineResponseWriter) writeHeaderLocked(status int) {
	if rw.wroteHeader || rw.err != nil {
		return
	}
	head := &Response{Status: status, Header: rw.header.Clone()}
	if !head.informational() {
		rw.wroteHeader = true
		head.Header.Del("Trailer")
		for k := range head.Header {
			if strings.HasPrefix(k, http.TrailerPrefix) {
				delete(head.Header, k)
			}
		}
	}
	rw.emitLocked(ResponsePart{Kind: HeadPart, Head: head})
}

func (rw *pipelineResponseWriter) Write(b []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if !rw.wroteHeader {
		if rw.header.Get(HeaderContentType) == "" {
			rw.header.Set(HeaderContentType, http.DetectContentType(b))
		}
		rw.writeHeaderLocked(http.StatusOK)
	}
	if rw.err != nil {
		return 0, rw.err
	}
	if len(b) == 0 {
		return 0, nil
	}
	body := make([]byte, len(b))
	copy(body, b)
	rw.emitLocked(ResponsePart{Kind: BodyPart, Body: body})
	if rw.err != nil {
		return 0, rw.err
	}
	return len(b), nil
}

// Flush is a no-op: every Write is handed on immediately.
func (rw *pipelineResponseWriter) Flush() {}

func (rw *pipelineResponseWriter) finish() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.ended {
		return
	}
	rw.writeHeaderLocked(http.StatusOK)
	rw.ended = true
	rw.emitLocked(ResponsePart{Kind: EndPart, Trailer: rw.trailers()})
}

func (rw *pipelineResponseWriter) abort(err error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.ended {
		return
	}
	if !rw.wroteHeader {
		rw.header = http.Header{}
		rw.header.Set(HeaderContentType, "text/plain; charset=utf-8")
		rw.writeHeaderLocked(http.StatusInternalServerError)
		rw.emitLocked(ResponsePart{Kind: BodyPart, Body: []byte(http.StatusText(http.StatusInternalServerError) + "\n")})
	}
	rw.ended = true
	rw.emitLocked(ResponsePart{Kind: EndPart})
}

func (rw *pipelineResponseWriter) trailers() http.Header {
	var trailer http.Header
	add := func(k string, v []string) {
		if trailer == nil {
			trailer = http.Header{}
		}
		trailer[http.CanonicalHeaderKey(k)] = v
	}
	for _, declared := range rw.header.Values("Trailer") {
		for _, k := range strings.Split(declared, ",") {
			k = strings.TrimSpace(k)
			if v, ok := rw.header[http.CanonicalHeaderKey(k)]; ok {
				add(k, v)
			}
		}
	}
	for k, v := range rw.header {
		if strings.HasPrefix(k, http.TrailerPrefix) {
			add(strings.TrimPrefix(k, http.TrailerPrefix), v)
		}
	}
	return trailer
}

func (rw *pipelineResponseWriter) emitLocked(part ResponsePart) {
	if rw.err != nil {
		return
	}
	if err := rw.w.WriteResponse(part); err != nil {
		rw.err = err
	}
}
