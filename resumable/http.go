package resumable

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	log "github.com/sjqzhang/seelog"
)

const readChunkSize = 32 << 10

// Handler serves resumable uploads on a net/http server. Requests that do not take
// part in the protocol go straight to next.
type Handler struct {
	engine *Engine
	next   http.Handler
}

func NewHandler(e *Engine, next http.Handler) *Handler {
	return &Handler{engine: e, next: next}
}

// RequestFromHTTP converts the head of r.
func RequestFromHTTP(r *http.Request) *Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if r.ContentLength >= 0 && header.Get(HeaderContentLength) == "" {
		header.Set(HeaderContentLength, strconv.FormatInt(r.ContentLength, 10))
	}
	return &Request{
		Method:    r.Method,
		Scheme:    scheme,
		Authority: r.Host,
		Path:      r.URL.RequestURI(),
		Header:    header,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := RequestFromHTTP(r)
	if h.engine.Classify(req).Kind == PassThrough {
		h.next.ServeHTTP(w, r)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.EnableFullDuplex()

	q := newResponseQueue()
	conn := h.engine.NewConn(q)
	readDone := make(chan struct{})
	go func() {
		err := receive(conn, req, r)
		close(readDone)
		if err == nil {
			select {
			case <-q.done:
			case <-r.Context().Done():
				err = r.Context().Err()
			}
		}
		conn.Close(err)
		q.close()
	}()

	q.drain(w, rc)
	<-readDone
}

// receive feeds the request stream of r into conn.
func receive(conn *Conn, req *Request, r *http.Request) error {
	if err := conn.Receive(RequestPart{Kind: HeadPart, Head: req}); err != nil {
		return err
	}
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Body.Read(buf)
		if n > 0 {
			if rerr := conn.Receive(RequestPart{Kind: BodyPart, Body: buf[:n]}); rerr != nil {
				return rerr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	return conn.Receive(RequestPart{Kind: EndPart, Trailer: r.Trailer})
}

// responseQueue is the Writer of a net/http exchange. Parts are queued by any
// goroutine and written to the ResponseWriter by the handler goroutine.
type responseQueue struct {
	mu     sync.Mutex
	parts  []ResponsePart
	notify chan struct{}
	closed bool
	broken bool

	done     chan struct{}
	doneOnce sync.Once
}

func newResponseQueue() *responseQueue {
	return &responseQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *responseQueue) WriteResponse(part ResponsePart) error {
	q.mu.Lock()
	if q.closed || q.broken {
		q.mu.Unlock()
		return ErrConnClosed
	}
	q.parts = append(q.parts, part)
	q.mu.Unlock()

	if part.Kind == EndPart {
		q.finish()
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *responseQueue) finish() {
	q.doneOnce.Do(func() { close(q.done) })
}

func (q *responseQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.finish()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *responseQueue) take() ([]ResponsePart, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	parts := q.parts
	q.parts = nil
	return parts, q.closed
}

// drain writes queued parts to w until the response has ended or the queue is closed.
func (q *responseQueue) drain(w http.ResponseWriter, rc *http.ResponseController) {
	for {
		parts, closed := q.take()
		for _, part := range parts {
			if err := writePart(w, rc, part); err != nil {
				log.Debugf("response write failed: %v", err)
				q.mu.Lock()
				q.broken = true
				q.mu.Unlock()
				q.finish()
				return
			}
			if part.Kind == EndPart {
				return
			}
		}
		if closed {
			return
		}
		<-q.notify
	}
}

func writePart(w http.ResponseWriter, rc *http.ResponseController, part ResponsePart) error {
	switch part.Kind {
	case HeadPart:
		h := w.Header()
		for k, v := range part.Head.Header {
			h[k] = v
		}
		w.WriteHeader(part.Head.Status)
		if part.Head.informational() {
			for k := range part.Head.Header {
				h.Del(k)
			}
		}
		return nil
	case BodyPart:
		if _, err := w.Write(part.Body); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	case EndPart:
		for k, v := range part.Trailer {
			for _, vv := range v {
				w.Header().Add(http.TrailerPrefix+k, vv)
			}
		}
		if len(part.Trailer) == 0 {
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		return nil
	}
	return ErrUnexpectedPart
}
