package resumable

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
)

var (
	errSlotEnded    = errors.New("response already ended")
	errSlotAnswered = errors.New("final response head already written")
	errNoHead       = errors.New("response part before final head")
)

// outbound keeps the responses of one connection in request order. Each exchange
// owns a slot; parts written to a slot that is not at the front are buffered.
type outbound struct {
	mu     sync.Mutex
	w      Writer
	queue  []*slot
	closed bool
}

type slot struct {
	out      *outbound
	parts    []ResponsePart
	answered bool
	ended    bool
}

func newOutbound(w Writer) *outbound {
	return &outbound{w: w}
}

func (o *outbound) open() *slot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &slot{out: o}
	if !o.closed {
		o.queue = append(o.queue, s)
	}
	return s
}

func (o *outbound) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.queue = nil
}

func (o *outbound) writeLocked(part ResponsePart) error {
	if err := o.w.WriteResponse(part); err != nil {
		o.closed = true
		o.queue = nil
		return fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	return nil
}

// advanceLocked pops the finished front slot and drains whatever its successors
// buffered in the meantime.
func (o *outbound) advanceLocked() {
	o.queue = o.queue[1:]
	for len(o.queue) > 0 {
		next := o.queue[0]
		parts := next.parts
		next.parts = nil
		for _, part := range parts {
			if err := o.writeLocked(part); err != nil {
				return
			}
		}
		if !next.ended {
			return
		}
		o.queue = o.queue[1:]
	}
}

func (s *slot) WriteResponse(part ResponsePart) error {
	o := s.out
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrConnClosed
	}
	if err := s.accept(part); err != nil {
		return err
	}
	if len(o.queue) == 0 || o.queue[0] != s {
		s.parts = append(s.parts, part)
		return nil
	}
	if err := o.writeLocked(part); err != nil {
		return err
	}
	if s.ended {
		o.advanceLocked()
	}
	return nil
}

func (s *slot) accept(part ResponsePart) error {
	if s.ended {
		return errSlotEnded
	}
	switch part.Kind {
	case HeadPart:
		if part.Head == nil {
			return fmt.Errorf("%w: head part without head", ErrUnexpectedPart)
		}
		if s.answered {
			return errSlotAnswered
		}
		if !part.Head.informational() {
			s.answered = true
		}
	case BodyPart:
		if !s.answered {
			return errNoHead
		}
	case EndPart:
		if !s.answered {
			return errNoHead
		}
		s.ended = true
	default:
		return ErrUnexpectedPart
	}
	return nil
}

// abort finishes the slot after its producer broke: a 500 when nothing final was
// written yet, otherwise a bare end.
func (s *slot) abort(err error) {
	o := s.out
	o.mu.Lock()
	answered, ended := s.answered, s.ended
	o.mu.Unlock()
	if ended {
		return
	}
	if !answered {
		writeError(s, newHTTPError(err, http.StatusInternalServerError), nil)
		return
	}
	_ = s.WriteResponse(ResponsePart{Kind: EndPart})
}

// writeResponse writes a complete response to w and stops at the first failure.
func writeResponse(w Writer, status int, header http.Header, body []byte) error {
	if header == nil {
		header = http.Header{}
	}
	if status != http.StatusNoContent && status >= http.StatusOK {
		header.Set(HeaderContentLength, strconv.Itoa(len(body)))
	}
	parts := []ResponsePart{{Kind: HeadPart, Head: &Response{Status: status, Header: header}}}
	if len(body) > 0 {
		parts = append(parts, ResponsePart{Kind: BodyPart, Body: body})
	}
	parts = append(parts, ResponsePart{Kind: EndPart})
	for _, part := range parts {
		if err := w.WriteResponse(part); err != nil {
			return err
		}
	}
	return nil
}

func writeError(w Writer, err error, header http.Header) error {
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderContentType, "text/plain; charset=utf-8")
	herr, ok := err.(httpError)
	if !ok {
		herr = newHTTPError(err, StatusCode(err))
	}
	return writeResponse(w, herr.StatusCode(), header, herr.Body())
}
