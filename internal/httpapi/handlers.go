package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"claimrelay/internal/funnel"
	"claimrelay/internal/participant"
	telegram "claimrelay/internal/transport/telegram/adapter"
	logx "claimrelay/pkg/logx"
)

// maxBody caps request bodies; payloads are a handful of short strings.
const maxBody = 1 << 20

// Funnel is the controller surface the handlers need.
type Funnel interface {
	CheckUser(id string) funnel.CheckResult
	SubmitClaim(ctx context.Context, c funnel.Claim) participant.Record
	TimerComplete(ctx context.Context, t funnel.TimerDone) (participant.Record, bool)
	HandleMessage(ctx context.Context, in funnel.Inbound) funnel.Outcome
	Users() []participant.Record
	Stats() funnel.Stats
	Len() int
}

type checkUserRequest struct {
	UserID string `json:"userid"`
}

type checkUserResponse struct {
	Exists    bool                `json:"exists"`
	Completed *bool               `json:"completed,omitempty"`
	Data      *participant.Record `json:"data,omitempty"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type usersResponse struct {
	Total int                  `json:"total"`
	Users []participant.Record `json:"users"`
}

type statsResponse struct {
	Total     int                  `json:"total"`
	Completed int                  `json:"completed"`
	Pending   int                  `json:"pending"`
	Users     []participant.Record `json:"users"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Users     int    `json:"users"`
	Timestamp string `json:"timestamp"`
}

type handlers struct {
	f   Funnel
	log logx.Logger
	now func() time.Time
}

func (h *handlers) checkUser(w http.ResponseWriter, r *http.Request) {
	req := decodeBody[checkUserRequest](r, h.log)

	res := h.f.CheckUser(req.UserID)
	if !res.Exists {
		writeJSON(w, checkUserResponse{Exists: false})
		return
	}
	writeJSON(w, checkUserResponse{Exists: true, Completed: &res.Completed, Data: &res.Record})
}

func (h *handlers) submitClaim(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	req := decodeJSON[funnel.Claim](body, r, h.log)
	if req.Timestamp.IsZero() {
		h.logStampFallback(body, req.UserID)
	}
	h.f.SubmitClaim(r.Context(), req)
	writeJSON(w, ackResponse{Success: true, Message: "Claim submitted successfully"})
}

func (h *handlers) timerComplete(w http.ResponseWriter, r *http.Request) {
	req := decodeBody[funnel.TimerDone](r, h.log)
	h.f.TimerComplete(r.Context(), req)
	writeJSON(w, ackResponse{Success: true, Message: "Timer completion logged"})
}

func (h *handlers) adminUsers(w http.ResponseWriter, r *http.Request) {
	users := h.f.Users()
	writeJSON(w, usersResponse{Total: len(users), Users: nonNil(users)})
}

func (h *handlers) adminStats(w http.ResponseWriter, r *http.Request) {
	st := h.f.Stats()
	writeJSON(w, statsResponse{Total: st.Total, Completed: st.Completed, Pending: st.Pending, Users: nonNil(st.Users)})
}

// webhook accepts a Telegram update. It always answers {"ok":true} so
// Telegram never retries.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	up := decodeBody[tele.Update](r, h.log)

	if msg := telegram.MessageFromTele(up.Message); msg != nil {
		out := h.f.HandleMessage(r.Context(), funnel.Inbound{
			Text:   msg.Text,
			FromID: strconv.FormatInt(msg.FromID, 10),
		})
		if out.Kind != funnel.KindIgnore {
			h.log.Debug("webhook message", logx.Int64("from", msg.FromID), logx.String("kind", out.Kind.String()), logx.Bool("known", out.Known))
		}
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{
		Status:    "ok",
		Users:     h.f.Len(),
		Timestamp: h.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// logStampFallback notes a claim timestamp the server could not read; the
// controller then stamps the claim with its own clock.
func (h *handlers) logStampFallback(body []byte, userID string) {
	var raw struct {
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if json.Unmarshal(body, &raw) != nil {
		return
	}
	if _, ok := participant.ParseTimestamp(raw.Timestamp); !ok {
		h.log.Debug("claim timestamp not understood; using server clock",
			logx.String("userid", userID), logx.String("raw", truncateRaw(raw.Timestamp)))
	}
}

func truncateRaw(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil
	}
	return b
}

// decodeBody reads a JSON body into T. Anything unreadable yields the zero
// value, never a partially filled one.
func decodeBody[T any](r *http.Request, log logx.Logger) T {
	return decodeJSON[T](readBody(r), r, log)
}

func decodeJSON[T any](b []byte, r *http.Request, log logx.Logger) T {
	var zero T
	if len(b) == 0 {
		return zero
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		log.Debug("ignoring malformed body", logx.String("path", r.URL.Path), logx.Err(err))
		return zero
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(in []participant.Record) []participant.Record {
	if in == nil {
		return []participant.Record{}
	}
	return in
}
