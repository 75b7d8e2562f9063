package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"video-gate-service/internal/app"
	"video-gate-service/internal/domain"
	"video-gate-service/internal/engine"
)

type WSHandler struct {
	service  *app.GateService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GateService) *WSHandler {
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

type samplePayload struct {
	Now      float64 `json:"now"`
	Duration float64 `json:"duration"`
	State    string  `json:"state"`
}

type stateChangePayload struct {
	State string `json:"state"`
}

type answerPayload struct {
	ItemID   string   `json:"itemId"`
	Selected []string `json:"selected,omitempty"`
	Text     string   `json:"text,omitempty"`
}

type identityPayload struct {
	Name string `json:"name"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wireItem is an Item with grading secrets (correct set, accepted answers,
// per-choice feedback) stripped before it crosses to the client.
type wireItem struct {
	ID          string          `json:"id"`
	Type        domain.ItemType `json:"type"`
	T           float64         `json:"t"`
	Prompt      string          `json:"prompt,omitempty"`
	Note        string          `json:"note,omitempty"`
	Choices     []domain.Choice `json:"choices,omitempty"`
	Placeholder string          `json:"placeholder,omitempty"`
	MaxLen      int             `json:"maxLen,omitempty"`
}

func toWireItem(item domain.Item) wireItem {
	return wireItem{
		ID:          item.ID,
		Type:        item.Type,
		T:           item.T,
		Prompt:      item.Prompt,
		Note:        item.Note,
		Choices:     item.Choices,
		Placeholder: item.Placeholder,
		MaxLen:      item.MaxLen,
	}
}

type joinedPayload struct {
	SessionID       string  `json:"sessionId"`
	QuizID          string  `json:"quizId"`
	Title           string  `json:"title,omitempty"`
	VideoID         string  `json:"videoId,omitempty"`
	EndAt           float64 `json:"endAt,omitempty"`
	RequireContinue bool    `json:"requireContinue"`
	RequireIdentity bool    `json:"requireIdentity"`
	ItemCount       int     `json:"itemCount"`
}

type openItemPayload struct {
	Item     wireItem       `json:"item"`
	Prefill  *domain.Answer `json:"prefill,omitempty"`
	ReadOnly bool           `json:"readOnly"`
}

type feedbackPayload struct {
	ItemID        string  `json:"itemId"`
	Text          string  `json:"text"`
	Correct       bool    `json:"correct"`
	Partial       bool    `json:"partial"`
	Points        float64 `json:"points"`
	AwaitContinue bool    `json:"awaitContinue"`
}

type seekToPayload struct {
	Time           float64 `json:"time"`
	AllowSeekAhead bool    `json:"allowSeekAhead"`
}

type identityOpenPayload struct {
	Prompt string `json:"prompt"`
}

type thanksPayload struct {
	Points    float64 `json:"points"`
	MaxPoints float64 `json:"maxPoints"`
	Percent   float64 `json:"percent"`
}

type validationPayload struct {
	ItemID  string `json:"itemId"`
	Message string `json:"message"`
}

// sessionHooks implements engine.Player and engine.Renderer by pushing
// commands onto the connection's send channel. Sends never block the engine.
type sessionHooks struct {
	send chan outboundMessage[any]
	kill func() // closes the connection
	once sync.Once
}

// push drops cosmetic notices when the client falls behind. Losing a playback
// or overlay command would leave the client out of sync with the engine, so
// the connection is torn down instead.
func (h *sessionHooks) push(msg outboundMessage[any]) {
	select {
	case h.send <- msg:
		return
	default:
	}
	if cosmeticType(msg.Type) {
		return
	}
	h.once.Do(h.kill)
}

func cosmeticType(msgType string) bool {
	switch msgType {
	case "warning", "validation", "submitError", "error":
		return true
	}
	return false
}

func (h *sessionHooks) Play()  { h.push(outboundMessage[any]{Type: "play"}) }
func (h *sessionHooks) Pause() { h.push(outboundMessage[any]{Type: "pause"}) }

func (h *sessionHooks) SeekTo(t float64, allowSeekAhead bool) {
	h.push(outboundMessage[any]{Type: "seekTo", Payload: seekToPayload{Time: t, AllowSeekAhead: allowSeekAhead}})
}

func (h *sessionHooks) ShowItem(item domain.Item, prefill *domain.Answer, readOnly bool) {
	h.push(outboundMessage[any]{Type: "openItem", Payload: openItemPayload{
		Item:     toWireItem(item),
		Prefill:  prefill,
		ReadOnly: readOnly,
	}})
}

func (h *sessionHooks) ShowFeedback(itemID, text string, score engine.Score, awaitContinue bool) {
	h.push(outboundMessage[any]{Type: "feedback", Payload: feedbackPayload{
		ItemID:        itemID,
		Text:          text,
		Correct:       score.Correct,
		Partial:       score.Partial,
		Points:        score.Points,
		AwaitContinue: awaitContinue,
	}})
}

func (h *sessionHooks) CloseOverlay() {
	h.push(outboundMessage[any]{Type: "closeOverlay"})
}

func (h *sessionHooks) ShowIdentity(prompt string) {
	h.push(outboundMessage[any]{Type: "openIdentity", Payload: identityOpenPayload{Prompt: prompt}})
}

func (h *sessionHooks) ShowThanks(points, max, percent float64) {
	h.push(outboundMessage[any]{Type: "openThanks", Payload: thanksPayload{Points: points, MaxPoints: max, Percent: percent}})
}

func (h *sessionHooks) ShowWarning(msg string) {
	h.push(outboundMessage[any]{Type: "warning", Payload: errorPayload{Message: msg}})
}

func (h *sessionHooks) ShowValidation(itemID, msg string) {
	h.push(outboundMessage[any]{Type: "validation", Payload: validationPayload{ItemID: itemID, Message: msg}})
}

func (h *sessionHooks) ShowSubmitError(msg string) {
	h.push(outboundMessage[any]{Type: "submitError", Payload: errorPayload{Message: msg}})
}

// ServeWS upgrades HTTP requests to websockets and binds one gating engine
// to the connection. The client's periodic sample messages are the engine's
// sampling loop; the read loop serializes them.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	hooks := &sessionHooks{
		send: make(chan outboundMessage[any], 32),
		kill: func() { _ = conn.Close() },
	}
	sessionID := uuid.NewString()

	session, err := h.service.OpenSession(r.Context(), quizID, sessionID, hooks, hooks)
	if err != nil {
		msg := "quiz unavailable"
		if errors.Is(err, domain.ErrQuizNotFound) {
			msg = "quiz not found"
		} else if errors.Is(err, domain.ErrMalformedQuiz) {
			msg = "quiz content is invalid"
		}
		_ = conn.WriteJSON(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}})
		return
	}
	defer h.service.CloseSession(sessionID)

	quiz, err := h.service.Quiz(r.Context(), quizID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range hooks.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	hooks.push(outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		SessionID:       sessionID,
		QuizID:          quiz.ID,
		Title:           quiz.Title,
		VideoID:         quiz.VideoID,
		EndAt:           quiz.EndAt,
		RequireContinue: quiz.RequireContinue,
		RequireIdentity: quiz.RequireIdentity,
		ItemCount:       len(quiz.Items),
	}})

	eng := session.Engine
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "sample":
			var p samplePayload
			if err := json.Unmarshal(inbound.Payload, &p); err != nil {
				hooks.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid sample payload"}})
				continue
			}
			eng.HandleSample(p.Now, p.Duration, engine.ParsePlayerState(p.State))
		case "stateChange":
			var p stateChangePayload
			if err := json.Unmarshal(inbound.Payload, &p); err != nil {
				continue
			}
			eng.HandleStateChange(engine.ParsePlayerState(p.State))
		case "answer":
			var p answerPayload
			if err := json.Unmarshal(inbound.Payload, &p); err != nil {
				hooks.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			eng.SubmitAnswer(p.ItemID, domain.Answer{Selected: p.Selected, Text: p.Text})
		case "continue":
			eng.Continue()
		case "identity":
			var p identityPayload
			if err := json.Unmarshal(inbound.Payload, &p); err != nil {
				continue
			}
			eng.SubmitIdentity(p.Name)
		case "retrySubmit":
			eng.RetrySubmit()
		case "closeThanks":
			eng.CloseThanks()
		default:
			hooks.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	// Engine.Close blocks until in-flight callbacks drain, so nothing can
	// push after the send channel closes.
	h.service.CloseSession(sessionID)
	close(hooks.send)
	<-writerDone
}
