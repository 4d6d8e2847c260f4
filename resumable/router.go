package resumable

import (
	log "github.com/sjqzhang/seelog"
)

// uploadWriter is the Writer an upload's pipeline answers through. Parts are held
// until the upload is complete and an exchange is attached to receive them.
type uploadWriter struct {
	u *Upload
}

func (w uploadWriter) WriteResponse(part ResponsePart) error {
	u := w.u
	u.mu.Lock()
	if u.state == StateExpired {
		u.mu.Unlock()
		return ErrUploadExpired
	}
	u.pending = append(u.pending, part)
	u.mu.Unlock()
	u.flush()
	return nil
}

// flush delivers pending response parts to the attached exchange. A part that could
// not be written stays pending for the next attachment.
func (u *Upload) flush() {
	u.flushMu.Lock()
	defer u.flushMu.Unlock()

	for {
		u.mu.Lock()
		if u.state != StateCompleted || u.attached == nil || u.sent >= len(u.pending) {
			u.mu.Unlock()
			return
		}
		ex := u.attached
		part := u.pending[u.sent]
		u.mu.Unlock()

		if err := ex.slot.WriteResponse(part); err != nil {
			log.Warnf("upload %s: response %s not delivered: %v", u.token, part.Kind, err)
			return
		}

		u.mu.Lock()
		if u.attached != ex {
			u.mu.Unlock()
			return
		}
		u.sent++
		if part.Kind != EndPart {
			u.mu.Unlock()
			continue
		}
		u.attached = nil
		u.pipeline = nil
		u.pending = nil
		u.sent = 0
		u.stopTimerLocked()
		u.mu.Unlock()

		log.Infof("upload %s response delivered", u.token)
		u.engine.registry.remove(u)
		ex.conn.release(ex)
		return
	}
}
