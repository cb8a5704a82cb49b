package domain

// Phase is the stage a live game session is currently in.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseQuestion    Phase = "question"
	PhaseReveal      Phase = "reveal"
	PhaseLeaderboard Phase = "leaderboard"
	PhaseFinished    Phase = "finished"
)

// Choice is one selectable option of a question.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question models an MCQ question with exactly one correct choice.
type Question struct {
	Text             string   `json:"text"`
	Choices          []Choice `json:"choices"`
	CorrectChoiceID  string   `json:"correctChoiceId"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
	BasePoints       int      `json:"basePoints"` // defaults to 1000 if zero
}

// Quiz is the immutable quiz definition a session plays through.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Answer is one recorded submission slot. An empty ChoiceID means the
// player let the deadline pass without answering.
type Answer struct {
	QuestionIndex int    `json:"questionIndex"`
	ChoiceID      string `json:"choiceId"`
	ElapsedMillis int64  `json:"elapsedMillis"`
	PointsAwarded int    `json:"pointsAwarded"`
}

// Player is a roster entry. Entries are never removed mid-session;
// disconnects only flip Active so earned scores survive reconnects.
type Player struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Score   int      `json:"score"`
	Active  bool     `json:"active"`
	Answers []Answer `json:"answers"`
}

// PlayerView is the wire-friendly roster entry used in broadcasts.
type PlayerView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Active bool   `json:"active"`
}

// View strips the answer history for broadcast payloads.
func (p *Player) View() PlayerView {
	return PlayerView{ID: p.ID, Name: p.Name, Score: p.Score, Active: p.Active}
}

// AnswerReceipt summarizes the outcome of a submission for the submitter.
type AnswerReceipt struct {
	QuestionIndex int  `json:"questionIndex"`
	Correct       bool `json:"correct"`
	PointsAwarded int  `json:"points"`
	TotalScore    int  `json:"totalScore"`
}
