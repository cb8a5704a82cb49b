package app

import (
	"context"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/game"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// GameService contains the live game use cases: the host control surface,
// the player control surface and event subscriptions. It holds no session
// state itself; the registry and its sessions are authoritative.
type GameService struct {
	registry *game.Registry
	quizzes  QuizRepository
}

func NewGameService(registry *game.Registry, quizzes QuizRepository) *GameService {
	return &GameService{registry: registry, quizzes: quizzes}
}

// CreateGame loads the quiz definition and opens a session for it in the
// lobby phase.
func (s *GameService) CreateGame(ctx context.Context, quizID string) (domain.GameInit, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.GameInit{}, err
	}

	session, err := s.registry.Create(quiz)
	if err != nil {
		return domain.GameInit{}, err
	}
	return domain.GameInit{
		GameID:         session.ID(),
		PIN:            session.PIN(),
		QuizTitle:      quiz.Title,
		TotalQuestions: len(quiz.Questions),
	}, nil
}

// HostResume re-attaches a host to an existing session after a reconnect,
// returning the same init payload CreateGame produced.
func (s *GameService) HostResume(_ context.Context, sessionID string) (domain.GameInit, error) {
	session, err := s.registry.LookupByID(sessionID)
	if err != nil {
		return domain.GameInit{}, err
	}
	quiz := session.Quiz()
	return domain.GameInit{
		GameID:         session.ID(),
		PIN:            session.PIN(),
		QuizTitle:      quiz.Title,
		TotalQuestions: len(quiz.Questions),
	}, nil
}

// Start begins the first question of a session.
func (s *GameService) Start(_ context.Context, sessionID string) error {
	session, err := s.registry.LookupByID(sessionID)
	if err != nil {
		return err
	}
	return session.Start()
}

// Reveal closes the current question early.
func (s *GameService) Reveal(_ context.Context, sessionID string) error {
	session, err := s.registry.LookupByID(sessionID)
	if err != nil {
		return err
	}
	return session.Reveal()
}

// Next advances past a reveal or leaderboard.
func (s *GameService) Next(_ context.Context, sessionID string) error {
	session, err := s.registry.LookupByID(sessionID)
	if err != nil {
		return err
	}
	return session.Next()
}

// End terminates a session from any phase.
func (s *GameService) End(_ context.Context, sessionID string) error {
	session, err := s.registry.LookupByID(sessionID)
	if err != nil {
		return err
	}
	return session.End()
}

// Join adds a player to the session behind the given PIN.
func (s *GameService) Join(_ context.Context, pin, name string) (domain.PlayerJoined, error) {
	session, err := s.registry.LookupByPIN(pin)
	if err != nil {
		return domain.PlayerJoined{}, err
	}

	playerID, err := session.Join(name)
	if err != nil {
		return domain.PlayerJoined{}, err
	}
	return domain.PlayerJoined{PlayerID: playerID, GameID: session.ID()}, nil
}

// Resume re-attaches a previously joined player after a reconnect. The
// session id (not the PIN) addresses the session so finished games remain
// reachable for a final leaderboard view.
func (s *GameService) Resume(_ context.Context, sessionID, playerID string) error {
	session, err := s.registry.LookupByID(sessionID)
	if err != nil {
		return err
	}
	if !session.HasPlayer(playerID) {
		return domain.ErrPlayerNotFound
	}
	session.MarkActive(playerID)
	return nil
}

// SubmitAnswer records a player's answer for the current question and
// returns the receipt to unicast back to the submitter.
func (s *GameService) SubmitAnswer(_ context.Context, sessionID, playerID string, questionIndex int, choiceID string) (domain.AnswerReceipt, error) {
	session, err := s.registry.LookupByID(sessionID)
	if err != nil {
		return domain.AnswerReceipt{}, err
	}
	return session.SubmitAnswer(playerID, questionIndex, choiceID)
}

// Subscribe returns an ordered event channel for a session. The channel
// starts with a snapshot of the current phase. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *GameService) Subscribe(_ context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	session, err := s.registry.LookupByID(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Disconnect marks a player inactive. Their roster entry, answers and score
// are retained for the rest of the session.
func (s *GameService) Disconnect(_ context.Context, sessionID, playerID string) {
	session, err := s.registry.LookupByID(sessionID)
	if err != nil {
		return
	}
	session.MarkInactive(playerID)
}
