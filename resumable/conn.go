package resumable

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	log "github.com/sjqzhang/seelog"
)

// exchange is one request/response pair on a connection.
type exchange struct {
	conn     *Conn
	slot     *slot
	fields   Fields
	location string
	received int64

	// pipeline is set for pass-through exchanges only.
	pipeline Pipeline
	upload   *Upload
	// discard drops the rest of the request body; the response is already decided.
	discard   bool
	retrieval bool
}

// Conn handles the request stream of one physical connection. Receive and Close
// must be called from a single goroutine; responses may be produced from any.
type Conn struct {
	engine *Engine
	out    *outbound
	ex     *exchange

	mu     sync.Mutex
	held   map[*exchange]struct{}
	closed bool
}

func newConn(e *Engine, w Writer) *Conn {
	return &Conn{
		engine: e,
		out:    newOutbound(w),
		held:   make(map[*exchange]struct{}),
	}
}

// Receive processes the next part of the inbound request stream.
func (c *Conn) Receive(part RequestPart) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	switch part.Kind {
	case HeadPart:
		if c.ex != nil || part.Head == nil {
			return fmt.Errorf("%w: head while an exchange is open", ErrUnexpectedPart)
		}
		c.receiveHead(part.Head)
	case BodyPart:
		if c.ex == nil {
			return fmt.Errorf("%w: body without head", ErrUnexpectedPart)
		}
		c.receiveBody(part.Body)
	case EndPart:
		if c.ex == nil {
			return fmt.Errorf("%w: end without head", ErrUnexpectedPart)
		}
		c.receiveEnd(part.Trailer)
	default:
		return ErrUnexpectedPart
	}
	return nil
}

// Close ends the connection. An exchange still receiving its body interrupts its
// upload; completed uploads waiting for delivery are released for retrieval.
func (c *Conn) Close(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	held := make([]*exchange, 0, len(c.held))
	for ex := range c.held {
		held = append(held, ex)
	}
	c.held = nil
	c.mu.Unlock()

	c.out.close()
	if ex := c.ex; ex != nil {
		c.ex = nil
		if ex.pipeline != nil {
			if err == nil {
				err = ErrConnClosed
			}
			ex.pipeline.Cancel(err)
		}
	}
	for _, ex := range held {
		ex.upload.interrupt(ex)
	}
}

func (c *Conn) hold(ex *exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held != nil {
		c.held[ex] = struct{}{}
	}
}

func (c *Conn) release(ex *exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, ex)
}

func (c *Conn) receiveHead(head *Request) {
	cl := c.engine.Classify(head)
	ex := &exchange{conn: c, slot: c.out.open(), fields: cl.Fields}
	c.ex = ex
	log.Debugf("%s %s: %s", head.Method, head.Path, cl.Kind)

	switch cl.Kind {
	case PassThrough:
		c.passThrough(ex, head)
	case NewUpload:
		c.createUpload(ex, head)
	case ResumeQuery:
		c.queryUpload(ex, cl.Token)
	case ResumePatch:
		c.resumeUpload(ex, head, cl.Token)
	case ResumeCancel:
		c.cancelUpload(ex, cl.Token)
	default:
		c.reject(ex, newHTTPError(cl.Err, http.StatusBadRequest), nil)
	}
}

func (c *Conn) passThrough(ex *exchange, head *Request) {
	ex.pipeline = c.engine.factory(ex.slot)
	if err := ex.pipeline.Head(head); err != nil {
		log.Errorf("%s %s: pipeline rejected head: %v", head.Method, head.Path, err)
		ex.pipeline.Cancel(err)
		ex.pipeline = nil
		ex.discard = true
		ex.slot.abort(err)
	}
}

func (c *Conn) createUpload(ex *exchange, head *Request) {
	e := c.engine
	u := e.registry.create(func(token string) *Upload {
		return newUpload(e, token, ex)
	})
	ex.upload = u
	ex.location = e.resumptionURL(head, u.token)
	c.hold(ex)

	h := http.Header{}
	h.Set(HeaderLocation, ex.location)
	h.Set(HeaderInteropVersion, ex.fields.Version)
	interim := ResponsePart{Kind: HeadPart, Head: &Response{Status: StatusUploadResumptionSupported, Header: h}}
	if err := ex.slot.WriteResponse(interim); err != nil {
		log.Warnf("upload %s: interim response not sent: %v", u.token, err)
	}
	log.Infof("upload %s created, resumable at %s", u.token, ex.location)

	// the downstream sees one body spanning every chunk; only a final creation
	// knows the logical length
	down := head.Clone()
	StripCompletion(down.Header)
	if ex.fields.MoreData {
		down.Header.Del(HeaderContentLength)
	}
	if err := u.start(ex, down); err != nil {
		c.failUpload(ex, err)
	}
}

func (c *Conn) queryUpload(ex *exchange, token string) {
	ex.discard = true
	u, ok := c.engine.registry.Lookup(token)
	if !ok {
		c.reject(ex, ErrNotFound, nil)
		return
	}
	info := u.Info()
	if info.State == StateExpired {
		c.reject(ex, ErrNotFound, nil)
		return
	}
	h := c.uploadHeader(ex, info)
	h.Set(HeaderCacheControl, "no-store")
	c.respond(ex, http.StatusNoContent, h)
}

func (c *Conn) resumeUpload(ex *exchange, head *Request, token string) {
	u, ok := c.engine.registry.Lookup(token)
	if !ok {
		c.reject(ex, ErrNotFound, nil)
		return
	}
	f := ex.fields
	retrieval, err := u.resume(ex, f.Offset, f.MoreData, f.ContentLength)
	if err != nil {
		var h http.Header
		if errors.Is(err, ErrOffsetConflict) {
			h = c.uploadHeader(ex, u.Info())
		}
		log.Infof("upload %s: resume at offset %d refused: %v", token, f.Offset, err)
		c.reject(ex, err, h)
		return
	}
	ex.upload = u
	ex.location = c.engine.resumptionURL(head, token)
	c.hold(ex)
	if retrieval {
		ex.retrieval = true
		log.Infof("upload %s: response retrieval", token)
		u.flush()
		return
	}
	log.Infof("upload %s resumed at offset %d", token, f.Offset)
}

func (c *Conn) cancelUpload(ex *exchange, token string) {
	ex.discard = true
	u, ok := c.engine.registry.Lookup(token)
	if !ok {
		c.reject(ex, ErrNotFound, nil)
		return
	}
	if err := u.cancel(); err != nil {
		c.reject(ex, err, nil)
		return
	}
	h := http.Header{}
	h.Set(HeaderInteropVersion, ex.fields.Version)
	c.respond(ex, http.StatusNoContent, h)
}

func (c *Conn) receiveBody(p []byte) {
	ex := c.ex
	if ex.pipeline != nil {
		if err := ex.pipeline.Body(p); err != nil {
			log.Errorf("pipeline rejected body: %v", err)
			ex.pipeline.Cancel(err)
			ex.pipeline = nil
			ex.discard = true
			ex.slot.abort(err)
		}
		return
	}
	if ex.discard || ex.retrieval || ex.upload == nil || len(p) == 0 {
		return
	}
	if cl := ex.fields.ContentLength; cl >= 0 && ex.received+int64(len(p)) > cl {
		c.interruptUpload(ex)
		c.reject(ex, ErrBodyTooLong, nil)
		return
	}
	if err := ex.upload.forward(ex, p); err != nil {
		c.failUpload(ex, err)
		return
	}
	ex.received += int64(len(p))
}

func (c *Conn) receiveEnd(trailer http.Header) {
	ex := c.ex
	c.ex = nil
	if ex.pipeline != nil {
		if err := ex.pipeline.End(trailer); err != nil {
			log.Errorf("pipeline rejected end: %v", err)
			ex.pipeline.Cancel(err)
			ex.slot.abort(err)
		}
		return
	}
	if ex.discard || ex.retrieval || ex.upload == nil {
		return
	}

	u := ex.upload
	if cl := ex.fields.ContentLength; cl >= 0 && ex.received < cl {
		c.interruptUpload(ex)
		c.reject(ex, ErrBodyTooShort, nil)
		return
	}
	if ex.fields.MoreData {
		// detach first so the next chunk may attach as soon as the client sees the ack
		info := u.detach(ex)
		c.release(ex)
		h := c.uploadHeader(ex, info)
		h.Set(HeaderLocation, ex.location)
		log.Debugf("upload %s: chunk accepted, offset %d", u.token, info.Offset)
		c.respond(ex, http.StatusCreated, h)
		return
	}
	if err := u.complete(ex, trailer); err != nil {
		c.failUpload(ex, err)
	}
}

func (c *Conn) interruptUpload(ex *exchange) {
	ex.upload.interrupt(ex)
	c.release(ex)
	ex.discard = true
}

func (c *Conn) failUpload(ex *exchange, err error) {
	ex.upload.fail(ex, err)
	c.release(ex)
	ex.discard = true
	ex.slot.abort(err)
}

func (c *Conn) uploadHeader(ex *exchange, info Info) http.Header {
	h := http.Header{}
	h.Set(HeaderUploadOffset, strconv.FormatInt(info.Offset, 10))
	SetCompletion(h, ex.fields.Version, info.State == StateCompleted)
	h.Set(HeaderInteropVersion, ex.fields.Version)
	return h
}

func (c *Conn) respond(ex *exchange, status int, h http.Header) {
	if err := writeResponse(ex.slot, status, h, nil); err != nil {
		log.Debugf("response %d not sent: %v", status, err)
	}
}

func (c *Conn) reject(ex *exchange, err error, h http.Header) {
	ex.discard = true
	if werr := writeError(ex.slot, err, h); werr != nil {
		log.Debugf("error response %q not sent: %v", err, werr)
	}
}
