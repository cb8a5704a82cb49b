package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type WSHandler struct {
	service  *app.GameService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	ChoiceID      string `json:"choiceId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// envelope wraps a session event for the wire; the event kind is the
// message type the clients dispatch on.
func envelope(e domain.Event) outboundMessage[any] {
	return outboundMessage[any]{Type: string(e.Kind()), Payload: e}
}

func errorEnvelope(msg string) outboundMessage[any] {
	return envelope(domain.ErrorNotice{Message: msg})
}

// ServeHost upgrades the host's connection, creates a game session for the
// requested quiz and relays host commands into it. Passing gameId instead of
// quizId reattaches to an existing session after a disconnect. The session
// outlives the socket; an abandoned lobby is cleaned up by the idle timeout.
func (h *WSHandler) ServeHost(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	gameID := r.URL.Query().Get("gameId")
	if quizID == "" && gameID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var init domain.GameInit
	if gameID != "" {
		init, err = h.service.HostResume(r.Context(), gameID)
	} else {
		init, err = h.service.CreateGame(r.Context(), quizID)
	}
	if err != nil {
		_ = conn.WriteJSON(errorEnvelope(err.Error()))
		return
	}

	// Handshake before the pumps start so game:init is the first frame.
	if err := conn.WriteJSON(envelope(init)); err != nil {
		return
	}

	updates, cancel, err := h.service.Subscribe(r.Context(), init.GameID)
	if err != nil {
		_ = conn.WriteJSON(errorEnvelope(err.Error()))
		return
	}
	defer cancel()

	send, cleanup := h.startPumps(conn, updates)
	defer cleanup()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		var cmdErr error
		switch inbound.Type {
		case "start":
			cmdErr = h.service.Start(r.Context(), init.GameID)
		case "next":
			cmdErr = h.service.Next(r.Context(), init.GameID)
		case "reveal":
			cmdErr = h.service.Reveal(r.Context(), init.GameID)
		case "end":
			cmdErr = h.service.End(r.Context(), init.GameID)
		default:
			cmdErr = errors.New("unsupported message type")
		}
		if cmdErr != nil {
			// Guard failures are reported to the host only, never broadcast.
			send <- errorEnvelope(cmdErr.Error())
		}
	}
}

// ServePlay upgrades a player's connection and joins them into the session
// behind the PIN. Passing gameId and playerId instead resumes an earlier
// join after a disconnect; the subscription snapshot resynchronizes the
// client with the current phase.
func (h *WSHandler) ServePlay(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	name := r.URL.Query().Get("name")
	gameID := r.URL.Query().Get("gameId")
	playerID := r.URL.Query().Get("playerId")

	resuming := gameID != "" && playerID != ""
	if !resuming && (pin == "" || name == "") {
		http.Error(w, "missing pin or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var joined domain.PlayerJoined
	if resuming {
		if err := h.service.Resume(r.Context(), gameID, playerID); err != nil {
			_ = conn.WriteJSON(errorEnvelope(err.Error()))
			return
		}
		joined = domain.PlayerJoined{PlayerID: playerID, GameID: gameID}
	} else {
		joined, err = h.service.Join(r.Context(), pin, name)
		if err != nil {
			_ = conn.WriteJSON(errorEnvelope(err.Error()))
			return
		}
	}

	// Handshake before the pumps start so player:joined is the first frame.
	if err := conn.WriteJSON(envelope(joined)); err != nil {
		return
	}

	updates, cancel, err := h.service.Subscribe(r.Context(), joined.GameID)
	if err != nil {
		_ = conn.WriteJSON(errorEnvelope(err.Error()))
		return
	}
	defer cancel()
	defer h.service.Disconnect(r.Context(), joined.GameID, joined.PlayerID)

	send, cleanup := h.startPumps(conn, updates)
	defer cleanup()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorEnvelope("invalid answer payload")
				continue
			}
			receipt, err := h.service.SubmitAnswer(r.Context(), joined.GameID, joined.PlayerID, payload.QuestionIndex, payload.ChoiceID)
			if errors.Is(err, domain.ErrDuplicateAnswer) {
				// Resubmission never mutates state; acknowledge with the
				// originally recorded points.
				err = nil
			}
			if err != nil {
				send <- errorEnvelope(err.Error())
				continue
			}
			send <- envelope(domain.AnswerAck{
				QuestionIndex: receipt.QuestionIndex,
				Correct:       receipt.Correct,
				Points:        receipt.PointsAwarded,
				TotalScore:    receipt.TotalScore,
			})
		default:
			send <- errorEnvelope("unsupported message type")
		}
	}
}

// startPumps wires the writer goroutine and the event relay for one client.
// The returned send channel is the only writer to the connection, so session
// broadcasts and command replies never interleave mid-frame. The returned
// cleanup must run before the connection closes.
func (h *WSHandler) startPumps(conn *websocket.Conn, updates <-chan domain.Event) (chan outboundMessage[any], func()) {
	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- envelope(update):
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	cleanup := func() {
		close(closeSignals)
		<-updatesDone
		close(send)
		<-writerDone
	}
	return send, cleanup
}
