package game

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// SessionOptions tunes a session's timing behaviour. The zero value gives
// production defaults; tests inject a fake clock for deterministic deadlines.
type SessionOptions struct {
	Clock        func() time.Time
	TickInterval time.Duration
	LobbyTTL     time.Duration
	// OnFinished is invoked once when the session reaches the finished
	// phase, with the session id. The registry uses it to release the PIN.
	OnFinished func(sessionID string)
}

// Session is the authoritative state machine for one live game. All state is
// owned by the session and guarded by a single mutex; commands from the host,
// players and the question timer are serialized through it. Broadcasting never
// blocks on slow subscribers, so no I/O happens while the lock is held.
type Session struct {
	id   string
	pin  string
	quiz domain.Quiz

	clock        func() time.Time
	tickInterval time.Duration
	onFinished   func(string)

	mu            sync.Mutex
	rnd           *rand.Rand
	phase         domain.Phase
	questionIndex int
	questionStart time.Time
	deadline      time.Time
	epoch         int           // bumped per question; stale timer events check it
	stopTimer     chan struct{} // non-nil while a question timer is running
	lobbyTimer    *time.Timer
	players       map[string]*domain.Player
	order         []string // playerIDs in join order, the leaderboard tie-break
	lastReveal    domain.Reveal
	subscribers   map[chan domain.Event]struct{}
}

// NewSession creates a session in the lobby phase. The idle-lobby timer starts
// immediately; a session that never starts is ended after LobbyTTL.
func NewSession(id, pin string, quiz domain.Quiz, opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickPeriod
	}
	if opts.LobbyTTL <= 0 {
		opts.LobbyTTL = defaultLobbyExpiry
	}

	s := &Session{
		id:            id,
		pin:           pin,
		quiz:          quiz,
		clock:         opts.Clock,
		tickInterval:  opts.TickInterval,
		onFinished:    opts.OnFinished,
		rnd:           rand.New(rand.NewSource(opts.Clock().UnixNano())),
		phase:         domain.PhaseLobby,
		questionIndex: -1,
		players:       make(map[string]*domain.Player),
		subscribers:   make(map[chan domain.Event]struct{}),
	}
	s.lobbyTimer = time.AfterFunc(opts.LobbyTTL, s.expireLobby)
	return s
}

func (s *Session) ID() string        { return s.id }
func (s *Session) PIN() string       { return s.pin }
func (s *Session) Quiz() domain.Quiz { return s.quiz }

func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Join adds a player to the roster. Only accepted while the session is still
// in the lobby; the updated roster is broadcast to everyone.
func (s *Session) Join(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseLobby {
		return "", domain.ErrInvalidTransition
	}
	if name == "" {
		return "", domain.ErrInvalidTransition
	}

	playerID := randomID(s.rnd, "p")
	s.players[playerID] = &domain.Player{ID: playerID, Name: name, Active: true}
	s.order = append(s.order, playerID)
	s.broadcastLocked(domain.RosterUpdate{Players: s.rosterLocked()})
	return playerID, nil
}

// Start moves the session from the lobby into the first question. Rejected
// while no player has joined.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseLobby || len(s.players) == 0 {
		return domain.ErrInvalidTransition
	}
	s.lobbyTimer.Stop()
	s.startQuestionLocked(0)
	return nil
}

// SubmitAnswer records a player's answer for the current question. Late,
// out-of-phase or out-of-cursor submissions are rejected with no side effect.
// A duplicate submission returns the originally recorded receipt together
// with ErrDuplicateAnswer so callers can acknowledge it benignly.
func (s *Session) SubmitAnswer(playerID string, questionIndex int, choiceID string) (domain.AnswerReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseQuestion || questionIndex != s.questionIndex {
		return domain.AnswerReceipt{}, domain.ErrInvalidTransition
	}

	player, ok := s.players[playerID]
	if !ok {
		return domain.AnswerReceipt{}, domain.ErrPlayerNotFound
	}

	if len(player.Answers) > questionIndex {
		prior := player.Answers[questionIndex]
		return domain.AnswerReceipt{
			QuestionIndex: questionIndex,
			Correct:       prior.PointsAwarded > 0,
			PointsAwarded: prior.PointsAwarded,
			TotalScore:    player.Score,
		}, domain.ErrDuplicateAnswer
	}

	// The deadline check uses the session clock, never client-supplied time.
	now := s.clock()
	if now.After(s.deadline) {
		return domain.AnswerReceipt{}, domain.ErrInvalidTransition
	}

	question := s.quiz.Questions[questionIndex]
	if !hasChoice(question, choiceID) {
		return domain.AnswerReceipt{}, domain.ErrChoiceNotFound
	}

	elapsed := now.Sub(s.questionStart)
	points := Score(question, choiceID, elapsed)
	player.Answers = append(player.Answers, domain.Answer{
		QuestionIndex: questionIndex,
		ChoiceID:      choiceID,
		ElapsedMillis: elapsed.Milliseconds(),
		PointsAwarded: points,
	})
	player.Score += points

	return domain.AnswerReceipt{
		QuestionIndex: questionIndex,
		Correct:       choiceID == question.CorrectChoiceID,
		PointsAwarded: points,
		TotalScore:    player.Score,
	}, nil
}

// Reveal closes the current question early on the host's command.
func (s *Session) Reveal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseQuestion {
		return domain.ErrInvalidTransition
	}
	s.revealLocked()
	return nil
}

// Next advances from reveal to leaderboard, and from leaderboard to either
// the next question or the end of the game.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case domain.PhaseReveal:
		s.phase = domain.PhaseLeaderboard
		s.broadcastLocked(domain.LeaderboardUpdate{Players: s.rankedLocked()})
		return nil
	case domain.PhaseLeaderboard:
		if s.questionIndex+1 < len(s.quiz.Questions) {
			s.startQuestionLocked(s.questionIndex + 1)
		} else {
			s.finishLocked()
		}
		return nil
	default:
		return domain.ErrInvalidTransition
	}
}

// End terminates the session from any phase. Ending an already finished
// session is a no-op.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseFinished {
		s.finishLocked()
	}
	return nil
}

// MarkInactive flags a disconnected player on the roster. The entry, its
// answers and its score all survive; unknown players are ignored.
func (s *Session) MarkInactive(playerID string) {
	s.setActive(playerID, false)
}

// MarkActive flags a reconnected player on the roster.
func (s *Session) MarkActive(playerID string) {
	s.setActive(playerID, true)
}

func (s *Session) setActive(playerID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[playerID]
	if !ok || player.Active == active {
		return
	}
	player.Active = active
	s.broadcastLocked(domain.RosterUpdate{Players: s.rosterLocked()})
}

// HasPlayer reports whether the roster contains the given player.
func (s *Session) HasPlayer(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.players[playerID]
	return ok
}

// Subscribe registers a listener for session events. The channel first
// receives a snapshot of the current phase, so a client (re)connecting
// mid-game is resynchronized without replaying history. The caller must
// invoke the returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	// Sent under the lock so no broadcast can outrun the snapshot. The
	// channel is fresh and its buffer exceeds any snapshot, so this never
	// blocks.
	for _, e := range s.snapshotLocked() {
		ch <- e
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// startQuestionLocked advances the cursor, arms the question timer and
// broadcasts the question payload.
func (s *Session) startQuestionLocked(idx int) {
	question := s.quiz.Questions[idx]
	limit := questionTimeLimit(question)
	now := s.clock()

	s.phase = domain.PhaseQuestion
	s.questionIndex = idx
	s.questionStart = now
	s.deadline = now.Add(limit)
	s.epoch++
	s.stopTimer = make(chan struct{})
	go s.runQuestionTimer(s.epoch, limit, s.stopTimer)

	s.broadcastLocked(domain.QuestionStart{
		QuestionNumber:   idx + 1,
		TotalQuestions:   len(s.quiz.Questions),
		Text:             question.Text,
		Choices:          question.Choices,
		TimeLimitSeconds: int(limit / time.Second),
	})
}

// runQuestionTimer emits countdown ticks and fires the expiry transition.
// The epoch guard makes a race between expiry and a manual reveal a no-op.
func (s *Session) runQuestionTimer(epoch int, limit time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	expiry := time.NewTimer(limit)
	defer expiry.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(epoch)
		case <-expiry.C:
			s.expire(epoch)
			return
		case <-stop:
			return
		}
	}
}

func (s *Session) tick(epoch int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseQuestion || s.epoch != epoch {
		return
	}
	left := int(math.Ceil(s.deadline.Sub(s.clock()).Seconds()))
	if left < 0 {
		left = 0
	}
	s.broadcastLocked(domain.TimeTick{SecondsLeft: left})
}

func (s *Session) expire(epoch int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseQuestion || s.epoch != epoch {
		return
	}
	s.revealLocked()
}

func (s *Session) expireLobby() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseLobby {
		return
	}
	s.broadcastLocked(domain.ErrorNotice{Message: "game closed: lobby idle timeout"})
	s.finishLocked()
}

// revealLocked freezes unanswered slots as zero-point non-answers, tallies
// the vote distribution and broadcasts the correct choice.
func (s *Session) revealLocked() {
	s.stopTimerLocked()

	question := s.quiz.Questions[s.questionIndex]
	limit := questionTimeLimit(question)
	counts := make(map[string]int, len(question.Choices))

	for _, id := range s.order {
		player := s.players[id]
		if len(player.Answers) <= s.questionIndex {
			player.Answers = append(player.Answers, domain.Answer{
				QuestionIndex: s.questionIndex,
				ElapsedMillis: limit.Milliseconds(),
			})
			continue
		}
		if choice := player.Answers[s.questionIndex].ChoiceID; choice != "" {
			counts[choice]++
		}
	}

	s.phase = domain.PhaseReveal
	s.lastReveal = domain.Reveal{
		CorrectChoiceID: question.CorrectChoiceID,
		Stats:           domain.RevealStats{ChoiceCounts: counts},
	}
	s.broadcastLocked(s.lastReveal)
}

func (s *Session) finishLocked() {
	s.stopTimerLocked()
	s.lobbyTimer.Stop()
	s.phase = domain.PhaseFinished
	s.broadcastLocked(domain.GameOver{Players: s.rankedLocked()})
	if s.onFinished != nil {
		s.onFinished(s.id)
	}
}

func (s *Session) stopTimerLocked() {
	if s.stopTimer != nil {
		close(s.stopTimer)
		s.stopTimer = nil
	}
}

// snapshotLocked is the resync payload for a fresh subscriber: exactly the
// broadcast of the current phase, never a replay of prior events.
func (s *Session) snapshotLocked() []domain.Event {
	switch s.phase {
	case domain.PhaseLobby:
		return []domain.Event{domain.RosterUpdate{Players: s.rosterLocked()}}
	case domain.PhaseQuestion:
		question := s.quiz.Questions[s.questionIndex]
		left := int(math.Ceil(s.deadline.Sub(s.clock()).Seconds()))
		if left < 0 {
			left = 0
		}
		return []domain.Event{
			domain.QuestionStart{
				QuestionNumber:   s.questionIndex + 1,
				TotalQuestions:   len(s.quiz.Questions),
				Text:             question.Text,
				Choices:          question.Choices,
				TimeLimitSeconds: int(questionTimeLimit(question) / time.Second),
			},
			domain.TimeTick{SecondsLeft: left},
		}
	case domain.PhaseReveal:
		return []domain.Event{s.lastReveal}
	case domain.PhaseLeaderboard:
		return []domain.Event{domain.LeaderboardUpdate{Players: s.rankedLocked()}}
	case domain.PhaseFinished:
		return []domain.Event{domain.GameOver{Players: s.rankedLocked()}}
	}
	return nil
}

func (s *Session) rosterLocked() []domain.PlayerView {
	views := make([]domain.PlayerView, 0, len(s.order))
	for _, id := range s.order {
		views = append(views, s.players[id].View())
	}
	return views
}

// rankedLocked orders the roster by score descending; ties keep join order.
func (s *Session) rankedLocked() []domain.PlayerView {
	views := s.rosterLocked()
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Score > views[j].Score
	})
	return views
}

func (s *Session) broadcastLocked(e domain.Event) {
	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			// Drop the oldest pending event rather than block the state
			// machine on a slow client; per-channel order is preserved.
			select {
			case <-ch:
			default:
			}
			ch <- e
		}
	}
}

func hasChoice(q domain.Question, choiceID string) bool {
	for _, c := range q.Choices {
		if c.ID == choiceID {
			return true
		}
	}
	return false
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomID(rnd *rand.Rand, prefix string) string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = idAlphabet[rnd.Intn(len(idAlphabet))]
	}
	return prefix + "-" + string(b)
}
