package resumable

import (
	"strings"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set"
	log "github.com/sjqzhang/seelog"
)

const (
	DefaultPathPrefix = "/resumable_upload/"
	DefaultExpiry     = time.Hour
)

type Options struct {
	// Origin is the scheme and authority resumption URLs are built from, e.g.
	// "https://example.com". Empty means the origin of the creating request.
	Origin string
	// PathPrefix is the fixed path resumption tokens are appended to.
	PathPrefix string
	// Expiry is how long an unattached upload is kept before it is discarded.
	Expiry          time.Duration
	InteropVersions []string
}

// Engine is the process-wide resumable upload context shared by every connection.
type Engine struct {
	origin   string
	prefix   string
	versions mapset.Set
	expiry   int64
	registry *Registry
	factory  PipelineFactory
}

func NewEngine(opts Options, factory PipelineFactory) *Engine {
	e := &Engine{
		origin:   strings.TrimSuffix(opts.Origin, "/"),
		prefix:   opts.PathPrefix,
		versions: newVersionSet(opts.InteropVersions),
		registry: NewRegistry(),
		factory:  factory,
	}
	if e.prefix == "" {
		e.prefix = DefaultPathPrefix
	}
	if !strings.HasPrefix(e.prefix, "/") {
		e.prefix = "/" + e.prefix
	}
	if !strings.HasSuffix(e.prefix, "/") {
		e.prefix += "/"
	}
	e.SetExpiry(opts.Expiry)
	return e
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// SetExpiry changes the idle expiry of uploads detached from now on.
func (e *Engine) SetExpiry(d time.Duration) {
	if d <= 0 {
		d = DefaultExpiry
	}
	if old := time.Duration(atomic.SwapInt64(&e.expiry, int64(d))); old != 0 && old != d {
		log.Infof("upload expiry changed from %s to %s", old, d)
	}
}

func (e *Engine) Expiry() time.Duration {
	return time.Duration(atomic.LoadInt64(&e.expiry))
}

func (e *Engine) PathPrefix() string {
	return e.prefix
}

// NewConn creates the handler of one physical connection writing to w.
func (e *Engine) NewConn(w Writer) *Conn {
	return newConn(e, w)
}

func (e *Engine) tokenFromPath(path string) (string, bool) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, e.prefix) {
		return "", false
	}
	token := path[len(e.prefix):]
	if token == "" || strings.IndexByte(token, '/') >= 0 {
		return "", false
	}
	return token, true
}

func (e *Engine) resumptionURL(req *Request, token string) string {
	origin := e.origin
	if origin == "" {
		scheme := req.Scheme
		if scheme == "" {
			scheme = "http"
		}
		origin = scheme + "://" + req.Authority
	}
	return origin + e.prefix + token
}
