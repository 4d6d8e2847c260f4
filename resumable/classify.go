package resumable

import (
	"fmt"
	"net/http"
)

// Kind is the protocol role of a request head.
type Kind int

const (
	PassThrough Kind = iota
	NewUpload
	ResumeQuery
	ResumePatch
	ResumeCancel
	Malformed
)

func (k Kind) String() string {
	switch k {
	case PassThrough:
		return "pass-through"
	case NewUpload:
		return "new-upload"
	case ResumeQuery:
		return "resume-query"
	case ResumePatch:
		return "resume-patch"
	case ResumeCancel:
		return "resume-cancel"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

type Classification struct {
	Kind   Kind
	Token  string
	Fields Fields
	// Err explains a Malformed classification.
	Err error
}

// Classify decides how a request head takes part in the protocol. It has no side effects.
func (e *Engine) Classify(req *Request) Classification {
	fields, err := ParseFields(req.Header, e.versions)
	if fields.Version == "" {
		return Classification{Kind: PassThrough, Fields: fields}
	}
	token, resumption := e.tokenFromPath(req.Path)

	switch {
	case req.Method == http.MethodPost:
		if err != nil || !fields.HasCompletion {
			// unparsable creation requests degrade to ordinary traffic
			return Classification{Kind: PassThrough, Fields: fields, Err: err}
		}
		return Classification{Kind: NewUpload, Fields: fields}
	case !resumption:
		return Classification{Kind: PassThrough, Fields: fields}
	case req.Method == http.MethodHead:
		return Classification{Kind: ResumeQuery, Token: token, Fields: fields}
	case req.Method == http.MethodDelete:
		return Classification{Kind: ResumeCancel, Token: token, Fields: fields}
	case req.Method == http.MethodPatch:
		if err == nil && !fields.HasOffset {
			err = fmt.Errorf("%w: invalid or missing %s header", ErrMalformedHeader, HeaderUploadOffset)
		}
		if err == nil && !fields.HasCompletion {
			err = fmt.Errorf("%w: invalid or missing %s header", ErrMalformedHeader, completionField(fields.Version))
		}
		if err != nil {
			return Classification{Kind: Malformed, Token: token, Fields: fields, Err: err}
		}
		return Classification{Kind: ResumePatch, Token: token, Fields: fields}
	}
	return Classification{Kind: PassThrough, Fields: fields}
}
