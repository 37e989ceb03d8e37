package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCapacityExceeded is returned by Admit when every slot is taken.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrResourcesExhausted is returned by Admit in unbounded mode when the
	// gate reports the host cannot take another session.
	ErrResourcesExhausted = errors.New("host resources exhausted")
)

// Session is the registry's view of one connected client.
type Session struct {
	ID          string    `json:"id"`
	Slot        int       `json:"slot,omitempty"` // 0 when the registry is unbounded
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Gate vetoes admissions when the registry has no slot limit.
type Gate interface {
	Check() error
}

// ChangeFunc observes the live session count after every admit or release.
type ChangeFunc func(total, max int)

type Options struct {
	// MaxSlots bounds concurrent sessions. 0 means unbounded, with no slot
	// numbers handed out.
	MaxSlots int
	Gate     Gate
	Now      func() time.Time
	NewID    func() string
}

// Registry tracks live sessions and owns the slot table. Slots are kept in an
// arena indexed by slot-1; admit and release are serialized by mu.
type Registry struct {
	mu       sync.Mutex
	slots    []string
	sessions map[string]*Session
	maxSlots int
	gate     Gate
	now      func() time.Time
	newID    func() string

	hookMu sync.RWMutex
	hooks  []ChangeFunc
}

func NewRegistry(opts Options) *Registry {
	if opts.MaxSlots < 0 {
		opts.MaxSlots = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Registry{
		slots:    make([]string, opts.MaxSlots),
		sessions: make(map[string]*Session),
		maxSlots: opts.MaxSlots,
		gate:     opts.Gate,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// OnChange registers fn to run after every successful admit or release. It is
// called outside the registry lock, so it may observe a later state.
func (r *Registry) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Registry) notify(total int) {
	r.hookMu.RLock()
	hooks := append([]ChangeFunc(nil), r.hooks...)
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(total, r.maxSlots)
	}
}

// Admit registers a new session. In bounded mode it takes the lowest free
// slot or fails with ErrCapacityExceeded; a rejection leaves the registry
// untouched.
func (r *Registry) Admit(remoteAddr string) (*Session, error) {
	if r.maxSlots == 0 && r.gate != nil {
		if err := r.gate.Check(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResourcesExhausted, err)
		}
	}

	r.mu.Lock()
	slot := 0
	if r.maxSlots > 0 {
		if len(r.sessions) >= r.maxSlots {
			n := len(r.sessions)
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %d of %d slots in use", ErrCapacityExceeded, n, r.maxSlots)
		}
		slot = r.lowestFreeSlot()
	}
	s := &Session{
		ID:          r.newID(),
		Slot:        slot,
		RemoteAddr:  remoteAddr,
		ConnectedAt: r.now(),
	}
	if slot > 0 {
		r.slots[slot-1] = s.ID
	}
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.notify(total)
	out := *s
	return &out, nil
}

// lowestFreeSlot must be called with mu held and at least one slot free.
func (r *Registry) lowestFreeSlot() int {
	for i, id := range r.slots {
		if id == "" {
			return i + 1
		}
	}
	return 0
}

// Release removes the session and frees its slot. It is safe to call more
// than once; only the first call for a live session returns true.
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	if s.Slot > 0 && r.slots[s.Slot-1] == id {
		r.slots[s.Slot-1] = ""
	}
	total := len(r.sessions)
	r.mu.Unlock()

	r.notify(total)
	return true
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	out := *s
	return &out, true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Max returns the slot limit, 0 when unbounded.
func (r *Registry) Max() int {
	return r.maxSlots
}

// Snapshot returns copies of all live sessions ordered by slot, then by
// connection time.
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	result := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, *s)
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		if !a.ConnectedAt.Equal(b.ConnectedAt) {
			return a.ConnectedAt.Before(b.ConnectedAt)
		}
		return a.ID < b.ID
	})
	return result
}
