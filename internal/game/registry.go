package game

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

const pinSpace = 10000 // 4-digit PINs

// PinReserver coordinates PIN ownership across service instances. Reserve
// returns false when another instance already holds the PIN.
type PinReserver interface {
	Reserve(pin string) bool
	Release(pin string)
}

// Registry maps join PINs and session ids to live sessions. PINs are unique
// among non-finished sessions only; retiring a session frees its PIN while
// keeping the session addressable by id for late leaderboard queries.
type Registry struct {
	opts     SessionOptions
	reserver PinReserver

	mu    sync.Mutex
	rnd   *rand.Rand
	byID  map[string]*Session
	byPIN map[string]*Session
}

// NewRegistry creates an empty registry. reserver may be nil for
// single-instance deployments.
func NewRegistry(opts SessionOptions, reserver PinReserver) *Registry {
	return &Registry{
		opts:     opts,
		reserver: reserver,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		byID:     make(map[string]*Session),
		byPIN:    make(map[string]*Session),
	}
}

// Create builds a new session for the quiz under a fresh PIN. Random PINs are
// retried on collision; once the random attempts are spent the remaining space
// is scanned so creation only fails when every PIN is genuinely taken.
func (r *Registry) Create(quiz domain.Quiz) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pin, err := r.freePinLocked()
	if err != nil {
		return nil, err
	}

	opts := r.opts
	opts.OnFinished = r.chainFinished(r.opts.OnFinished)

	id := randomID(r.rnd, "g")
	session := NewSession(id, pin, quiz, opts)
	r.byID[id] = session
	r.byPIN[pin] = session
	return session, nil
}

// LookupByPIN resolves a PIN to its active session.
func (r *Registry) LookupByPIN(pin string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byPIN[pin]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// LookupByID resolves a session id; retired sessions remain resolvable.
func (r *Registry) LookupByID(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Retire releases a session's PIN. The id mapping is kept.
func (r *Registry) Retire(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retireLocked(sessionID)
}

func (r *Registry) retireLocked(sessionID string) {
	session, ok := r.byID[sessionID]
	if !ok {
		return
	}
	if current, ok := r.byPIN[session.PIN()]; ok && current == session {
		delete(r.byPIN, session.PIN())
		if r.reserver != nil {
			r.reserver.Release(session.PIN())
		}
	}
}

// chainFinished retires the session when its state machine reports finishing,
// then invokes any caller-supplied hook.
func (r *Registry) chainFinished(next func(string)) func(string) {
	return func(sessionID string) {
		r.mu.Lock()
		r.retireLocked(sessionID)
		r.mu.Unlock()
		if next != nil {
			next(sessionID)
		}
	}
}

func (r *Registry) freePinLocked() (string, error) {
	if len(r.byPIN) >= pinSpace {
		return "", domain.ErrRegistryExhausted
	}

	for attempt := 0; attempt < 50; attempt++ {
		pin := fmt.Sprintf("%04d", r.rnd.Intn(pinSpace))
		if r.claimPinLocked(pin) {
			return pin, nil
		}
	}

	// Random draws kept colliding; walk the space deterministically.
	for n := 0; n < pinSpace; n++ {
		pin := fmt.Sprintf("%04d", n)
		if r.claimPinLocked(pin) {
			return pin, nil
		}
	}
	return "", domain.ErrRegistryExhausted
}

func (r *Registry) claimPinLocked(pin string) bool {
	if _, taken := r.byPIN[pin]; taken {
		return false
	}
	if r.reserver != nil && !r.reserver.Reserve(pin) {
		return false
	}
	return true
}
