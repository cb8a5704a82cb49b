package game

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func twoQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "General knowledge",
		Questions: []domain.Question{
			{
				Text: "What is 2 + 2?",
				Choices: []domain.Choice{
					{ID: "c1", Text: "3"},
					{ID: "c2", Text: "4"},
				},
				CorrectChoiceID:  "c2",
				TimeLimitSeconds: 30,
				BasePoints:       1000,
			},
			{
				Text: "Capital of France?",
				Choices: []domain.Choice{
					{ID: "c1", Text: "Paris"},
					{ID: "c2", Text: "Lyon"},
				},
				CorrectChoiceID:  "c1",
				TimeLimitSeconds: 30,
				BasePoints:       1000,
			},
		},
	}
}

func newTestSession(t *testing.T, clock *fakeClock) *Session {
	t.Helper()
	s := NewSession("g-test", "1234", twoQuestionQuiz(), SessionOptions{Clock: clock.Now})
	t.Cleanup(func() { _ = s.End() })
	return s
}

func currentEpoch(s *Session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func TestStartRequiresPlayers(t *testing.T) {
	s := newTestSession(t, newFakeClock())

	if err := s.Start(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if s.Phase() != domain.PhaseLobby {
		t.Fatalf("phase changed on rejected start: %s", s.Phase())
	}
}

func TestJoinOnlyInLobby(t *testing.T) {
	s := newTestSession(t, newFakeClock())

	if _, err := s.Join(""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected empty name rejected, got %v", err)
	}
	if _, err := s.Join("Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Join("Late Larry"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected mid-game join rejected, got %v", err)
	}
}

func TestScoringScenarioRanksPlayers(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	a, _ := s.Join("A")
	b, _ := s.Join("B")
	if _, err := s.Join("C"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	receipt, err := s.SubmitAnswer(a, 0, "c2")
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	if receipt.PointsAwarded != 1000 {
		t.Fatalf("expected 1000 points at t=0, got %d", receipt.PointsAwarded)
	}

	clock.Advance(15 * time.Second)
	receipt, err = s.SubmitAnswer(b, 0, "c2")
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if receipt.PointsAwarded != 500 {
		t.Fatalf("expected 500 points at t=15s, got %d", receipt.PointsAwarded)
	}

	// C never answers.
	if err := s.Reveal(); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next to leaderboard: %v", err)
	}

	s.mu.Lock()
	ranked := s.rankedLocked()
	s.mu.Unlock()
	if len(ranked) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(ranked))
	}
	if ranked[0].Name != "A" || ranked[1].Name != "B" || ranked[2].Name != "C" {
		t.Fatalf("expected order [A B C], got [%s %s %s]", ranked[0].Name, ranked[1].Name, ranked[2].Name)
	}
	if ranked[0].Score != 1000 || ranked[1].Score != 500 || ranked[2].Score != 0 {
		t.Fatalf("unexpected scores %d/%d/%d", ranked[0].Score, ranked[1].Score, ranked[2].Score)
	}
}

func TestLeaderboardTieBreakKeepsJoinOrder(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	first, _ := s.Join("First")
	second, _ := s.Join("Second")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Both answer wrong: scores stay equal at zero.
	if _, err := s.SubmitAnswer(second, 0, "c1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.SubmitAnswer(first, 0, "c1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Reveal(); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	for i := 0; i < 5; i++ {
		s.mu.Lock()
		ranked := s.rankedLocked()
		s.mu.Unlock()
		if ranked[0].Name != "First" || ranked[1].Name != "Second" {
			t.Fatalf("tie-break broke join order: [%s %s]", ranked[0].Name, ranked[1].Name)
		}
	}
}

func TestLateAnswerRejected(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	p, _ := s.Join("P")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(31 * time.Second)
	if _, err := s.SubmitAnswer(p, 0, "c2"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected late answer rejected, got %v", err)
	}
}

func TestAnswerAfterExpireRejectedAndScoreUnchanged(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	p, _ := s.Join("P")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(31 * time.Second)
	s.expire(currentEpoch(s))
	if s.Phase() != domain.PhaseReveal {
		t.Fatalf("expected reveal after expiry, got %s", s.Phase())
	}

	if _, err := s.SubmitAnswer(p, 0, "c2"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected post-expiry answer rejected, got %v", err)
	}

	s.mu.Lock()
	score := s.players[p].Score
	s.mu.Unlock()
	if score != 0 {
		t.Fatalf("score mutated by rejected answer: %d", score)
	}
}

func TestDuplicateAnswerKeepsOriginalPoints(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	p, _ := s.Join("P")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	original, err := s.SubmitAnswer(p, 0, "c2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	clock.Advance(5 * time.Second)
	dup, err := s.SubmitAnswer(p, 0, "c1")
	if !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected duplicate answer error, got %v", err)
	}
	if dup.PointsAwarded != original.PointsAwarded || dup.TotalScore != original.TotalScore {
		t.Fatalf("duplicate receipt differs: %+v vs %+v", dup, original)
	}

	s.mu.Lock()
	score := s.players[p].Score
	s.mu.Unlock()
	if score != original.PointsAwarded {
		t.Fatalf("duplicate changed score: %d", score)
	}
}

func TestExpireAfterManualRevealIsNoop(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	if _, err := s.Join("P"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	epoch := currentEpoch(s)

	if err := s.Reveal(); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	s.expire(epoch) // losing side of the race
	if s.Phase() != domain.PhaseReveal {
		t.Fatalf("stale expiry advanced phase to %s", s.Phase())
	}

	if err := s.Reveal(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second reveal rejected, got %v", err)
	}
}

func TestFullPhasePath(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	p, _ := s.Join("P")
	steps := []struct {
		run  func() error
		want domain.Phase
	}{
		{s.Start, domain.PhaseQuestion},
		{s.Reveal, domain.PhaseReveal},
		{s.Next, domain.PhaseLeaderboard},
		{s.Next, domain.PhaseQuestion}, // question 2 of 2
		{s.Reveal, domain.PhaseReveal},
		{s.Next, domain.PhaseLeaderboard},
		{s.Next, domain.PhaseFinished},
	}
	for i, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if s.Phase() != step.want {
			t.Fatalf("step %d: phase %s, want %s", i, s.Phase(), step.want)
		}
	}

	// Terminal: nothing moves out of finished.
	if err := s.Next(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected next rejected when finished, got %v", err)
	}
	if _, err := s.SubmitAnswer(p, 1, "c1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected answer rejected when finished, got %v", err)
	}
}

func TestNextRejectedDuringQuestion(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	if _, err := s.Join("P"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Next(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected next rejected during question, got %v", err)
	}
	if s.Phase() != domain.PhaseQuestion {
		t.Fatalf("rejected next changed phase: %s", s.Phase())
	}
}

func TestEndFromAnyPhase(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	if _, err := s.Join("P"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if s.Phase() != domain.PhaseFinished {
		t.Fatalf("expected finished, got %s", s.Phase())
	}
	if err := s.End(); err != nil {
		t.Fatalf("end should be idempotent: %v", err)
	}
}

func TestScoreEqualsSumOfAnswerPoints(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	p, _ := s.Join("P")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitAnswer(p, 0, "c2"); err != nil {
		t.Fatalf("submit q1: %v", err)
	}
	if err := s.Reveal(); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next question: %v", err)
	}
	clock.Advance(12 * time.Second)
	if _, err := s.SubmitAnswer(p, 1, "c1"); err != nil {
		t.Fatalf("submit q2: %v", err)
	}
	if err := s.Reveal(); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	s.mu.Lock()
	player := s.players[p]
	sum := 0
	for _, a := range player.Answers {
		sum += a.PointsAwarded
	}
	score := player.Score
	s.mu.Unlock()
	if score != sum {
		t.Fatalf("score %d != sum of awarded points %d", score, sum)
	}
}

func TestRevealTalliesChoices(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	a, _ := s.Join("A")
	b, _ := s.Join("B")
	c, _ := s.Join("C")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	ch, cancel := s.Subscribe()
	defer cancel()
	drain(ch) // snapshot

	if _, err := s.SubmitAnswer(a, 0, "c2"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.SubmitAnswer(b, 0, "c2"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.SubmitAnswer(c, 0, "c1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Reveal(); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	reveal := waitForReveal(t, ch)
	if reveal.CorrectChoiceID != "c2" {
		t.Fatalf("wrong correct choice: %s", reveal.CorrectChoiceID)
	}
	if reveal.Stats.ChoiceCounts["c2"] != 2 || reveal.Stats.ChoiceCounts["c1"] != 1 {
		t.Fatalf("unexpected tally: %v", reveal.Stats.ChoiceCounts)
	}
}

func TestSubscribeResyncsWithSnapshot(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	if _, err := s.Join("P"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(10 * time.Second)

	// A client connecting mid-question gets the question and the remaining
	// time, not the join-phase history.
	ch, cancel := s.Subscribe()
	defer cancel()

	first := <-ch
	q, ok := first.(domain.QuestionStart)
	if !ok {
		t.Fatalf("expected question snapshot, got %T", first)
	}
	if q.QuestionNumber != 1 || q.TotalQuestions != 2 {
		t.Fatalf("bad question snapshot: %+v", q)
	}
	second := <-ch
	tick, ok := second.(domain.TimeTick)
	if !ok {
		t.Fatalf("expected time tick after snapshot, got %T", second)
	}
	if tick.SecondsLeft != 20 {
		t.Fatalf("expected 20s left, got %d", tick.SecondsLeft)
	}
}

func TestSubscribeSnapshotNotOutrunByConcurrentJoins(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	if _, err := s.Join("P0"); err != nil {
		t.Fatalf("join: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 20; i++ {
			if _, err := s.Join(fmt.Sprintf("P%d", i)); err != nil {
				return
			}
		}
	}()

	ch, cancel := s.Subscribe()
	defer cancel()
	<-done

	// The snapshot is committed under the session lock, so a racing join's
	// broadcast can never land ahead of it: roster sizes only grow along
	// the channel, even when overflow drops the oldest pending event.
	last := 0
	for {
		select {
		case e := <-ch:
			roster, ok := e.(domain.RosterUpdate)
			if !ok {
				t.Fatalf("expected roster updates in lobby, got %T", e)
			}
			if len(roster.Players) < last {
				t.Fatalf("roster shrank from %d to %d players", last, len(roster.Players))
			}
			last = len(roster.Players)
		default:
			if last == 0 {
				t.Fatalf("no events received")
			}
			return
		}
	}
}

func TestMarkInactiveKeepsRosterEntry(t *testing.T) {
	clock := newFakeClock()
	s := newTestSession(t, clock)

	p, _ := s.Join("P")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitAnswer(p, 0, "c2"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	s.MarkInactive(p)
	if !s.HasPlayer(p) {
		t.Fatalf("disconnect removed roster entry")
	}
	s.mu.Lock()
	player := s.players[p]
	active, score := player.Active, player.Score
	s.mu.Unlock()
	if active {
		t.Fatalf("expected player inactive")
	}
	if score != 1000 {
		t.Fatalf("disconnect lost score: %d", score)
	}

	s.MarkActive(p)
	s.mu.Lock()
	active = s.players[p].Active
	s.mu.Unlock()
	if !active {
		t.Fatalf("expected player active after reconnect")
	}
}

func TestLobbyIdleTimeoutEndsSession(t *testing.T) {
	s := NewSession("g-idle", "0000", twoQuestionQuiz(), SessionOptions{LobbyTTL: 20 * time.Millisecond})
	defer s.End()

	deadline := time.Now().Add(2 * time.Second)
	for s.Phase() != domain.PhaseFinished {
		if time.Now().After(deadline) {
			t.Fatalf("lobby never timed out, phase %s", s.Phase())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQuestionTimerExpiresSession(t *testing.T) {
	quiz := twoQuestionQuiz()
	quiz.Questions = quiz.Questions[:1]
	quiz.Questions[0].TimeLimitSeconds = 1

	s := NewSession("g-timer", "0001", quiz, SessionOptions{TickInterval: 100 * time.Millisecond})
	defer s.End()

	if _, err := s.Join("P"); err != nil {
		t.Fatalf("join: %v", err)
	}
	ch, cancel := s.Subscribe()
	defer cancel()
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	sawTick := false
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			switch e.(type) {
			case domain.TimeTick:
				sawTick = true
			case domain.Reveal:
				if !sawTick {
					t.Fatalf("reveal arrived before any time tick")
				}
				if s.Phase() != domain.PhaseReveal {
					t.Fatalf("expected reveal phase, got %s", s.Phase())
				}
				return
			}
		case <-deadline:
			t.Fatalf("timer never expired the question")
		}
	}
}

func drain(ch <-chan domain.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func waitForReveal(t *testing.T, ch <-chan domain.Event) domain.Reveal {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if r, ok := e.(domain.Reveal); ok {
				return r
			}
		case <-deadline:
			t.Fatalf("no reveal event received")
		}
	}
}
