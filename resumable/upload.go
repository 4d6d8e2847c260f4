package resumable

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sjqzhang/seelog"
)

type State int

const (
	StateActive State = iota
	StateInterrupted
	StateCompleted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateCompleted:
		return "completed"
	case StateExpired:
		return "expired"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateActive, StateInterrupted, StateCompleted, StateExpired} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown upload state %q", text)
}

// Info is a point-in-time view of an upload.
type Info struct {
	Token    string    `json:"token"`
	State    State     `json:"state"`
	Offset   int64     `json:"offset"`
	Length   int64     `json:"length"`
	Attached bool      `json:"attached"`
	Pending  int       `json:"pending"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// Upload is the shared state of one logical upload. It owns the downstream
// pipeline; connections only attach to forward bytes or receive its response.
type Upload struct {
	token   string
	engine  *Engine
	created time.Time

	mu       sync.Mutex
	state    State
	offset   int64
	length   int64
	pipeline Pipeline
	attached *exchange
	pending  []ResponsePart
	sent     int
	updated  time.Time
	timer    *time.Timer
	idleGen  uint64

	// flushMu orders deliveries without holding mu during writes.
	flushMu sync.Mutex
}

func newUpload(e *Engine, token string, ex *exchange) *Upload {
	now := time.Now()
	u := &Upload{
		token:    token,
		engine:   e,
		created:  now,
		updated:  now,
		state:    StateActive,
		length:   -1,
		attached: ex,
	}
	u.pipeline = e.factory(uploadWriter{u})
	return u
}

func (u *Upload) Token() string {
	return u.token
}

func (u *Upload) Info() Info {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.infoLocked()
}

func (u *Upload) infoLocked() Info {
	return Info{
		Token:    u.token,
		State:    u.state,
		Offset:   u.offset,
		Length:   u.length,
		Attached: u.attached != nil,
		Pending:  len(u.pending) - u.sent,
		Created:  u.created,
		Updated:  u.updated,
	}
}

// start hands the reconstructed head downstream. It runs once per upload.
func (u *Upload) start(ex *exchange, head *Request) error {
	u.mu.Lock()
	if u.attached != ex {
		u.mu.Unlock()
		return ErrAttachConflict
	}
	pipeline := u.pipeline
	u.mu.Unlock()
	return pipeline.Head(head)
}

// resume attaches ex after validating the offset the client presented. A completed
// upload may only be attached to retrieve its response.
func (u *Upload) resume(ex *exchange, offset int64, moreData bool, contentLength int64) (retrieval bool, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch {
	case u.state == StateExpired:
		return false, ErrNotFound
	case u.attached != nil:
		return false, ErrAttachConflict
	case offset != u.offset:
		return false, ErrOffsetConflict
	case u.state == StateCompleted:
		if moreData || contentLength > 0 {
			return false, ErrUploadComplete
		}
		retrieval = true
		u.sent = 0
	default:
		u.state = StateActive
	}
	u.attached = ex
	u.updated = time.Now()
	u.stopTimerLocked()
	return retrieval, nil
}

// forward delivers one chunk downstream and only then counts it.
func (u *Upload) forward(ex *exchange, p []byte) error {
	u.mu.Lock()
	if u.attached != ex || u.state != StateActive {
		u.mu.Unlock()
		return ErrAttachConflict
	}
	pipeline := u.pipeline
	u.mu.Unlock()

	if err := pipeline.Body(p); err != nil {
		return err
	}

	u.mu.Lock()
	u.offset += int64(len(p))
	u.updated = time.Now()
	u.mu.Unlock()
	return nil
}

// detach releases ex after a non-final chunk was accepted; the upload stays active.
// The returned view is taken before another exchange can attach.
func (u *Upload) detach(ex *exchange) Info {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.attached == ex {
		u.attached = nil
		u.updated = time.Now()
		u.scheduleExpiryLocked()
	}
	return u.infoLocked()
}

// interrupt releases ex after its connection went away. The offset stays frozen.
func (u *Upload) interrupt(ex *exchange) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.attached != ex {
		return
	}
	u.attached = nil
	u.updated = time.Now()
	if u.state == StateActive {
		u.state = StateInterrupted
		log.Infof("upload %s interrupted at offset %d", u.token, u.offset)
	}
	u.scheduleExpiryLocked()
}

// complete marks the logical upload done and signals the end downstream.
func (u *Upload) complete(ex *exchange, trailer http.Header) error {
	u.mu.Lock()
	if u.attached != ex || u.state != StateActive {
		u.mu.Unlock()
		return ErrAttachConflict
	}
	u.state = StateCompleted
	u.length = u.offset
	u.updated = time.Now()
	pipeline := u.pipeline
	u.mu.Unlock()

	log.Infof("upload %s completed with %d bytes", u.token, u.length)
	if err := pipeline.End(trailer); err != nil {
		return err
	}
	u.flush()
	return nil
}

// cancel discards an unattached upload on client request.
func (u *Upload) cancel() error {
	u.mu.Lock()
	switch {
	case u.state == StateExpired:
		u.mu.Unlock()
		return ErrNotFound
	case u.attached != nil:
		u.mu.Unlock()
		return ErrAttachConflict
	}
	pipeline := u.discardLocked()
	u.mu.Unlock()

	log.Infof("upload %s canceled at offset %d", u.token, u.offset)
	u.engine.registry.remove(u)
	if pipeline != nil {
		pipeline.Cancel(ErrUploadCanceled)
	}
	return nil
}

// fail discards the upload after its pipeline broke while ex was forwarding.
func (u *Upload) fail(ex *exchange, err error) {
	u.mu.Lock()
	if u.attached != ex || u.state == StateExpired {
		u.mu.Unlock()
		return
	}
	pipeline := u.discardLocked()
	u.mu.Unlock()

	log.Errorf("upload %s failed: %v", u.token, err)
	u.engine.registry.remove(u)
	if pipeline != nil {
		pipeline.Cancel(err)
	}
}

func (u *Upload) expire(gen uint64) {
	u.mu.Lock()
	if gen != u.idleGen || u.attached != nil || u.state == StateExpired {
		u.mu.Unlock()
		return
	}
	pipeline := u.discardLocked()
	u.mu.Unlock()

	log.Infof("upload %s expired at offset %d", u.token, u.offset)
	u.engine.registry.remove(u)
	if pipeline != nil {
		pipeline.Cancel(ErrUploadExpired)
	}
}

func (u *Upload) discardLocked() Pipeline {
	pipeline := u.pipeline
	u.pipeline = nil
	u.state = StateExpired
	u.attached = nil
	u.pending = nil
	u.sent = 0
	u.updated = time.Now()
	u.stopTimerLocked()
	return pipeline
}

func (u *Upload) scheduleExpiryLocked() {
	u.stopTimerLocked()
	gen := u.idleGen
	u.timer = time.AfterFunc(u.engine.Expiry(), func() {
		u.expire(gen)
	})
}

func (u *Upload) stopTimerLocked() {
	u.idleGen++
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
}
