package resumable

import (
	"sort"
	"sync"

	"github.com/sjqzhang/goutil"
	"github.com/sjqzhang/tusd/uid"
)

// Registry maps upload tokens to their in-flight uploads.
type Registry struct {
	mu      sync.Mutex
	uploads *goutil.CommonMap
}

// Stats counts registered uploads by state.
type Stats struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Interrupted int `json:"interrupted"`
	Completed   int `json:"completed"`
	Attached    int `json:"attached"`
}

func NewRegistry() *Registry {
	return &Registry{uploads: goutil.NewCommonMap(0)}
}

// create registers a new upload under a freshly minted token.
func (r *Registry) create(newUpload func(token string) *Upload) *Upload {
	r.mu.Lock()
	defer r.mu.Unlock()
	token := uid.Uid()
	for r.uploads.Contains(token) {
		token = uid.Uid()
	}
	u := newUpload(token)
	r.uploads.Put(token, u)
	return u
}

func (r *Registry) Lookup(token string) (*Upload, bool) {
	v, ok := r.uploads.GetValue(token)
	if !ok {
		return nil, false
	}
	u, ok := v.(*Upload)
	return u, ok
}

// remove drops the entry only while it still refers to u.
func (r *Registry) remove(u *Upload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.uploads.GetValue(u.token); ok && v == u {
		r.uploads.Remove(u.token)
	}
}

func (r *Registry) Len() int {
	return len(r.uploads.Get())
}

// Snapshot describes every registered upload, oldest first.
func (r *Registry) Snapshot() []Info {
	all := r.uploads.Get()
	infos := make([]Info, 0, len(all))
	for _, v := range all {
		if u, ok := v.(*Upload); ok {
			infos = append(infos, u.Info())
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Created.Before(infos[j].Created)
	})
	return infos
}

func (r *Registry) Stats() Stats {
	var st Stats
	for _, info := range r.Snapshot() {
		st.Total++
		if info.Attached {
			st.Attached++
		}
		switch info.State {
		case StateActive:
			st.Active++
		case StateInterrupted:
			st.Interrupted++
		case StateCompleted:
			st.Completed++
		}
	}
	return st
}
