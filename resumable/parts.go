package resumable

import (
	"net/http"
)

// Request is a transport-agnostic request head.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Header    http.Header
}

func (r *Request) Clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	return &c
}

// Response is a transport-agnostic response head. Informational (1xx) heads may
// precede the final head of an exchange.
type Response struct {
	Status int
	Header http.Header
}

func (r *Response) informational() bool {
	return r.Status >= 100 && r.Status < 200 && r.Status != http.StatusSwitchingProtocols
}

type PartKind uint8

const (
	HeadPart PartKind = iota
	BodyPart
	EndPart
)

func (k PartKind) String() string {
	switch k {
	case HeadPart:
		return "head"
	case BodyPart:
		return "body"
	case EndPart:
		return "end"
	}
	return "unknown"
}

type RequestPart struct {
	Kind    PartKind
	Head    *Request
	Body    []byte
	Trailer http.Header
}

type ResponsePart struct {
	Kind    PartKind
	Head    *Response
	Body    []byte
	Trailer http.Header
}

// Writer accepts the response parts of one physical connection in order.
type Writer interface {
	WriteResponse(part ResponsePart) error
}

// Pipeline is the downstream application for one logical request. It is fed exactly
// one head, any number of body chunks and one end, and answers through the Writer it
// was created with. Body must not retain p after returning.
type Pipeline interface {
	Head(req *Request) error
	Body(p []byte) error
	End(trailer http.Header) error
	// Cancel tears the pipeline down when the logical request will never complete.
	Cancel(err error)
}

// PipelineFactory creates the downstream pipeline of a logical request.
type PipelineFactory func(w Writer) Pipeline
