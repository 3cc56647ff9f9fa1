package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"statuswatch-backend/lib/scrapers/vantage"
	"statuswatch-backend/lib/serviceutil"
	"statuswatch-backend/services/keychain"
	"statuswatch-backend/services/statusquery"
)

// apiServer is the JSON surface the cli and the chat layer talk to.
// Every route sits under /v1/ and requires a keychain api token unless
// the daemon runs with insecure_no_auth.
type apiServer struct {
	queries  *statusquery.Service
	session  *vantage.Session
	keychain keychain.Service
	insecure bool
}

func (s apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/queries", s.submitQuery)
	mux.HandleFunc("GET /v1/queries/{id}", s.pollQuery)
	mux.HandleFunc("DELETE /v1/queries/{id}", s.cancelQuery)
	mux.HandleFunc("GET /v1/history", s.history)
	mux.HandleFunc("GET /v1/session", s.sessionStatus)
	mux.HandleFunc("POST /v1/session/reset", s.sessionReset)
	mux.HandleFunc("POST /v1/challenges/{id}/resolution", s.resolveChallenge)
	if s.insecure {
		slog.Warn("api authentication is disabled")
		return mux
	}
	return s.requireApiToken(mux)
}

// requireApiToken guards the api with bearer tokens stored in the
// keychain. Tokens are minted offline with `statuswatch-cli token
// create`.
func (s apiServer) requireApiToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := serviceutil.BearerToken(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ok, err := s.keychain.CheckApiToken(r.Context(), token)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to check api token", "err", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Warn("failed to encode response body", "err", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJson(w, status, errorBody{Error: err.Error()})
}

type submitQueryBody struct {
	Identifier string `json:"identifier"`
}

func (s apiServer) submitQuery(w http.ResponseWriter, r *http.Request) {
	var body submitQueryBody
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	q, err := s.queries.Submit(r.Context(), body.Identifier)
	var invalid *statusquery.InputInvalidError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, statusquery.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJson(w, http.StatusAccepted, q)
	}
}

func (s apiServer) pollQuery(w http.ResponseWriter, r *http.Request) {
	q, err := s.queries.Poll(r.Context(), r.PathValue("id"))
	if errors.Is(err, statusquery.ErrQueryNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, q)
}

func (s apiServer) cancelQuery(w http.ResponseWriter, r *http.Request) {
	q, err := s.queries.Cancel(r.Context(), r.PathValue("id"))
	if errors.Is(err, statusquery.ErrQueryNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, q)
}

func (s apiServer) history(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.queries.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, entries)
}

func (s apiServer) sessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, s.session.Status())
}

func (s apiServer) sessionReset(w http.ResponseWriter, r *http.Request) {
	s.session.Reset(r.Context())
	writeJson(w, http.StatusOK, s.session.Status())
}

type resolveChallengeBody struct {
	Value string `json:"value"`
}

func (s apiServer) resolveChallenge(w http.ResponseWriter, r *http.Request) {
	var body resolveChallengeBody
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.session.ResolveChallenge(r.PathValue("id"), body.Value)
	switch {
	case errors.Is(err, vantage.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, vantage.ErrInvalidResolution):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJson(w, http.StatusOK, s.session.Status())
	}
}
