// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the scheduling service.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Shivanand-hulikatti/listening-parties/internal/ics"
	"github.com/Shivanand-hulikatti/listening-parties/internal/lib/logger/sl"
	"github.com/Shivanand-hulikatti/listening-parties/internal/model"
	"github.com/Shivanand-hulikatti/listening-parties/internal/service"
)

// PartyHandler holds all HTTP handlers for the listening party API.
type PartyHandler struct {
	log      *slog.Logger
	svc      *service.Scheduler
	validate *validator.Validate
	now      func() time.Time
}

// NewPartyHandler constructs a PartyHandler.
func NewPartyHandler(log *slog.Logger, svc *service.Scheduler) *PartyHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &PartyHandler{log: log, svc: svc, validate: v, now: time.Now}
}

// PartyResponse is returned by schedule, update and cancel.
type PartyResponse struct {
	Party   *model.Party `json:"party"`
	Message string       `json:"message"`
}

// JoinResponse is returned by join.
type JoinResponse struct {
	*service.Enrolled
	Message string `json:"message"`
}

// UpcomingEntry is one party in an upcoming listing.
type UpcomingEntry struct {
	model.UpcomingParty
	Flair string `json:"flair"`
	Text  string `json:"text"`
}

// UpcomingResponse is returned by the upcoming listing.
type UpcomingResponse struct {
	Parties []UpcomingEntry `json:"parties"`
	Summary string          `json:"summary"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, problems ...string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Problems: problems})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// bind decodes the body into dst and checks its required fields. On failure
// it writes a 400 and returns false.
func (h *PartyHandler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		problems := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			problems = append(problems, fieldPath(fe)+" is required")
		}
		writeError(w, http.StatusBadRequest, "Incorrect number of arguments.", problems...)
		return false
	}
	return true
}

// fieldPath is the JSON path of a failed field without the root type, e.g.
// "requester.tag".
func fieldPath(fe validator.FieldError) string {
	_, path, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Field()
	}
	return path
}

func scopeOf(r *http.Request) model.Scope {
	return model.Scope{
		GuildID:   chi.URLParam(r, "guildID"),
		ChannelID: chi.URLParam(r, "channelID"),
	}
}

func partyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%q is not a valid party ID.", raw))
		return 0, false
	}
	return id, true
}

// fail maps a service error onto a status code and a readable message.
func (h *PartyHandler) fail(w http.ResponseWriter, r *http.Request, err error, id int64) {
	msg := service.ErrorMessage(err, id)

	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, msg, verr.Problems...)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, msg)
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, msg)
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrAlreadyEnrolled):
		writeError(w, http.StatusConflict, msg)
	case errors.Is(err, service.ErrStore):
		writeError(w, http.StatusServiceUnavailable, msg)
	default:
		h.log.Error("unhandled service error", slog.String("path", r.URL.Path), sl.Err(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

// Schedule handles POST /guilds/{guildID}/channels/{channelID}/parties
func (h *PartyHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req model.ScheduleRequest
	if !h.bind(w, r, &req) {
		return
	}

	party, err := h.svc.Schedule(r.Context(), scopeOf(r), req)
	if err != nil {
		h.fail(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusCreated, PartyResponse{Party: party, Message: service.ScheduledMessage(party)})
}

// Upcoming handles GET /guilds/{guildID}/channels/{channelID}/parties?tz=
func (h *PartyHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	tz := r.URL.Query().Get("tz")

	upcoming, err := h.svc.Upcoming(r.Context(), scopeOf(r), tz)
	if err != nil {
		h.fail(w, r, err, 0)
		return
	}

	now := h.now()
	entries := make([]UpcomingEntry, 0, len(upcoming))
	for i := range upcoming {
		entries = append(entries, UpcomingEntry{
			UpcomingParty: upcoming[i],
			Flair:         upcoming[i].Flair(now),
			Text:          service.UpcomingLine(&upcoming[i], now),
		})
	}

	writeJSON(w, http.StatusOK, UpcomingResponse{Parties: entries, Summary: service.UpcomingSummary(upcoming, tz)})
}

// UpcomingCalendar handles GET /guilds/{guildID}/channels/{channelID}/parties/upcoming.ics
func (h *PartyHandler) UpcomingCalendar(w http.ResponseWriter, r *http.Request) {
	upcoming, err := h.svc.Upcoming(r.Context(), scopeOf(r), "")
	if err != nil {
		h.fail(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Render(upcoming, h.now())))
}

// Join handles POST /guilds/{guildID}/channels/{channelID}/parties/{id}/join
func (h *PartyHandler) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := partyID(w, r)
	if !ok {
		return
	}
	var req model.JoinRequest
	if !h.bind(w, r, &req) {
		return
	}

	enrolled, err := h.svc.JoinParty(r.Context(), scopeOf(r), req.UserID, req.UserTag, id)
	if err != nil {
		h.fail(w, r, err, id)
		return
	}

	writeJSON(w, http.StatusCreated, JoinResponse{Enrolled: enrolled, Message: service.JoinedMessage(enrolled)})
}

// Update handles PUT /guilds/{guildID}/channels/{channelID}/parties/{id}
func (h *PartyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := partyID(w, r)
	if !ok {
		return
	}
	var req model.UpdateRequest
	if !h.bind(w, r, &req) {
		return
	}

	party, err := h.svc.UpdateParty(r.Context(), scopeOf(r), req.Requester, id, req.DateTime, req.Timezone, req.Duration)
	if err != nil {
		h.fail(w, r, err, id)
		return
	}

	writeJSON(w, http.StatusOK, PartyResponse{Party: party, Message: service.ScheduledMessage(party)})
}

// Cancel handles POST /guilds/{guildID}/channels/{channelID}/parties/{id}/cancel
func (h *PartyHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := partyID(w, r)
	if !ok {
		return
	}
	var req model.CancelRequest
	if !h.bind(w, r, &req) {
		return
	}

	party, err := h.svc.CancelParty(r.Context(), scopeOf(r), req.Requester, id)
	if err != nil {
		h.fail(w, r, err, id)
		return
	}

	writeJSON(w, http.StatusOK, PartyResponse{Party: party, Message: service.CanceledMessage(party)})
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
