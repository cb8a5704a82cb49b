package domain

// EventKind names a session event on the wire.
type EventKind string

const (
	EventGameInit     EventKind = "game:init"
	EventPlayerJoined EventKind = "player:joined"
	EventRosterUpdate EventKind = "game:lobby_update"
	EventQuestion     EventKind = "game:question"
	EventTimeTick     EventKind = "game:time"
	EventReveal       EventKind = "game:reveal"
	EventLeaderboard  EventKind = "game:leaderboard"
	EventGameOver     EventKind = "game:game_over"
	EventAnswerAck    EventKind = "answer:submitted"
	EventError        EventKind = "game:error"
)

// Event is the variant union carried on a session's broadcast channel.
// Consumers type-switch on the concrete payload; Kind supplies the wire name.
type Event interface {
	Kind() EventKind
}

// GameInit is sent once to the host when their session is created.
type GameInit struct {
	GameID         string `json:"gameId"`
	PIN            string `json:"pin"`
	QuizTitle      string `json:"quizTitle"`
	TotalQuestions int    `json:"totalQuestions"`
}

func (GameInit) Kind() EventKind { return EventGameInit }

// PlayerJoined is sent once to a player after a successful join.
type PlayerJoined struct {
	PlayerID string `json:"playerId"`
	GameID   string `json:"gameId"`
}

func (PlayerJoined) Kind() EventKind { return EventPlayerJoined }

// RosterUpdate carries the join-ordered roster while in the lobby.
type RosterUpdate struct {
	Players []PlayerView `json:"players"`
}

func (RosterUpdate) Kind() EventKind { return EventRosterUpdate }

// QuestionStart carries everything clients need to render a question.
// The correct choice is deliberately absent.
type QuestionStart struct {
	QuestionNumber   int      `json:"questionNumber"`
	TotalQuestions   int      `json:"totalQuestions"`
	Text             string   `json:"text"`
	Choices          []Choice `json:"choices"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
}

func (QuestionStart) Kind() EventKind { return EventQuestion }

// TimeTick is the coarse countdown broadcast during a question.
type TimeTick struct {
	SecondsLeft int `json:"secondsLeft"`
}

func (TimeTick) Kind() EventKind { return EventTimeTick }

// RevealStats aggregates how the roster voted on a question.
type RevealStats struct {
	ChoiceCounts map[string]int `json:"choiceCounts"`
}

// Reveal discloses the correct choice and the per-choice vote tally.
type Reveal struct {
	CorrectChoiceID string      `json:"correctChoiceId"`
	Stats           RevealStats `json:"stats"`
}

func (Reveal) Kind() EventKind { return EventReveal }

// LeaderboardUpdate carries the ranked roster between questions.
type LeaderboardUpdate struct {
	Players []PlayerView `json:"players"`
}

func (LeaderboardUpdate) Kind() EventKind { return EventLeaderboard }

// GameOver carries the final ranked roster.
type GameOver struct {
	Players []PlayerView `json:"finalLeaderboard"`
}

func (GameOver) Kind() EventKind { return EventGameOver }

// AnswerAck is unicast to the submitting player only.
type AnswerAck struct {
	QuestionIndex int  `json:"questionIndex"`
	Correct       bool `json:"correct"`
	Points        int  `json:"points"`
	TotalScore    int  `json:"totalScore"`
}

func (AnswerAck) Kind() EventKind { return EventAnswerAck }

// ErrorNotice reports a session-level failure to connected clients.
type ErrorNotice struct {
	Message string `json:"message"`
}

func (ErrorNotice) Kind() EventKind { return EventError }
