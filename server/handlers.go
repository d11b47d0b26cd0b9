package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/notifier"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

// AccountView is an account as returned by the API, without its password
type AccountView struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	SectionCount    int        `json:"section_count"`
	IntervalSeconds int        `json:"interval_seconds"`
	TotalChecks     int        `json:"total_checks"`
	TotalGained     int        `json:"total_gained"`
	TotalLost       int        `json:"total_lost"`
	LastCheck       *time.Time `json:"last_check,omitempty"`
	RegisteredAt    time.Time  `json:"registered_at"`
	Summary         string     `json:"summary,omitempty"`
}

func newAccountView(account sectionsense.Account) AccountView {
	view := AccountView{
		ID:              account.ID,
		Username:        account.Username,
		SectionCount:    len(account.Sections),
		IntervalSeconds: account.IntervalSeconds,
		TotalChecks:     account.TotalChecks,
		TotalGained:     account.TotalGained,
		TotalLost:       account.TotalLost,
		RegisteredAt:    account.RegisteredAt,
	}
	if !account.LastCheck.IsZero() {
		lastCheck := account.LastCheck
		view.LastCheck = &lastCheck
	}
	return view
}

// SectionsResponse lists a snapshot's sections along with the rendered message
type SectionsResponse struct {
	Count    int                    `json:"count"`
	Sections []sectionsense.Section `json:"sections"`
	Text     string                 `json:"text"`
}

func newSectionsResponse(snapshot sectionsense.Snapshot) SectionsResponse {
	return SectionsResponse{len(snapshot), snapshot.Sections(), notifier.FormatSections(snapshot)}
}

type OnboardRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type IntervalRequest struct {
	Minutes int `json:"minutes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s Server) pingHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		log.Debug().Str("module", "server").Msg("ping request received")

		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Str("module", "server").Err(err).Msg("error writing ping response")
		}
	}
}

func (s Server) listHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		accounts, err := s.service.List(r.Context())
		if err != nil {
			writeError(w, "list", "", err)
			return
		}

		views := make([]AccountView, len(accounts))
		for i, account := range accounts {
			views[i] = newAccountView(account)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (s Server) onboardHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id := p.ByName("id")
		log.Info().Str("module", "server").Str("account", id).Msg("onboard request received")

		var req OnboardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Warn().Str("module", "server").Err(err).Msg("error decoding onboard request")
			writeJSON(w, http.StatusBadRequest, errorResponse{"Failed to parse request"})
			return
		}

		snapshot, err := s.service.Onboard(r.Context(), id, req.Username, sectionsense.Secret(req.Password))
		if err != nil {
			writeError(w, "onboard", id, err)
			return
		}

		writeJSON(w, http.StatusCreated, newSectionsResponse(snapshot))
		log.Info().Str("module", "server").Str("account", id).Int("sections", len(snapshot)).Msg("onboard request succeeded")
	}
}

func (s Server) accountHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id := p.ByName("id")

		account, err := s.service.Account(r.Context(), id)
		if err != nil {
			writeError(w, "account", id, err)
			return
		}

		view := newAccountView(account)
		view.Summary = notifier.FormatStats(account)
		writeJSON(w, http.StatusOK, view)
	}
}

func (s Server) unregisterHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id := p.ByName("id")

		deleted, err := s.service.Unregister(r.Context(), id)
		if err != nil {
			writeError(w, "unregister", id, err)
			return
		}
		if !deleted {
			writeJSON(w, http.StatusNotFound, errorResponse{"Account is not registered"})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s Server) checkHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id := p.ByName("id")

		result, err := s.service.CheckNow(r.Context(), id)
		if err != nil {
			writeError(w, "check", id, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func (s Server) intervalHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id := p.ByName("id")

		var req IntervalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{"Failed to parse request"})
			return
		}

		// bounded before converting so the seconds cannot overflow
		if req.Minutes < 0 || req.Minutes > sectionsense.MaxIntervalSeconds/60 {
			writeError(w, "interval", id, &sectionsense.ValidationError{Field: "interval", Value: req.Minutes, Message: "must be between 0 minutes and 30 days"})
			return
		}

		if err := s.service.SetInterval(r.Context(), id, req.Minutes*60); err != nil {
			writeError(w, "interval", id, err)
			return
		}

		account, err := s.service.Account(r.Context(), id)
		if err != nil {
			writeError(w, "interval", id, err)
			return
		}
		writeJSON(w, http.StatusOK, newAccountView(account))
	}
}

func (s Server) sectionsHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		id := p.ByName("id")

		snapshot, err := s.service.Sections(r.Context(), id)
		if err != nil {
			writeError(w, "sections", id, err)
			return
		}

		writeJSON(w, http.StatusOK, newSectionsResponse(snapshot))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Str("module", "server").Err(err).Msg("error writing response")
	}
}

// writeError maps service errors to status codes. Messages come from the error types, which never carry passwords.
func writeError(w http.ResponseWriter, op, id string, err error) {
	status := statusFor(err)

	event := log.Warn()
	if status == http.StatusInternalServerError {
		event = log.Error()
	}
	event.Str("module", "server").Str("op", op).Str("account", id).Err(err).Int("status", status).Msg("request failed")

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal error, if it persists please contact the service owner"
	}
	writeJSON(w, status, errorResponse{message})
}

func statusFor(err error) int {
	var timeoutErr *sectionsense.TimeoutError

	switch {
	case errors.Is(err, sectionsense.ErrAccountNotFound):
		return http.StatusNotFound
	case sectionsense.IsValidation(err):
		return http.StatusBadRequest
	case sectionsense.IsAuth(err):
		return http.StatusUnauthorized
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case sectionsense.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
