// Package admin serves the operator command surface as a small JSON
// API. Every route requires a bearer token from the configured
// operator allowlist; unauthorized calls get one fixed denial body and
// change no state.
package admin

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"

	server "github.com/charadev96/gatehouse/internal/server/domain"
	"github.com/charadev96/gatehouse/internal/server/service"
	shared "github.com/charadev96/gatehouse/internal/shared/domain"
)

type API struct {
	Members server.MemberRepository
	Issuer  *service.Issuer
	Sweeper *service.Sweeper
	// Tokens maps bearer token to operator name, used for audit logs.
	Tokens  map[string]string
	Metrics http.Handler
	Logger  *zerolog.Logger

	Now func() time.Time
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if a.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.authorize)
		r.Post("/roster", a.handleRosterAdd)
		r.Delete("/roster/{identity}", a.handleRosterRemove)
		r.Get("/members", a.handleListMembers)
		r.Get("/members/{identity}", a.handleGetMember)
		r.Post("/members/{identity}/invitation", a.handleRequestInvitation)
		r.Post("/members/{identity}/reissue", a.handleReissue)
		r.Post("/sweep", a.handleSweep)
		r.Get("/stats", a.handleStats)
		r.Get("/export.csv", a.handleExport)
	})

	return r
}

// authorize checks the bearer token against the operator allowlist.
// The denial response is fixed: it leaks nothing about which part of
// the credential was wrong.
func (a *API) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			a.deny(w)
			return
		}
		operator, ok := a.Tokens[header[len(prefix):]]
		if !ok {
			a.deny(w)
			return
		}
		a.Logger.Debug().
			Str("operator", operator).
			Str("path", r.URL.Path).
			Msg("authorized operator call")
		next.ServeHTTP(w, r)
	})
}

func (a *API) deny(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorPayload{Error: "access denied"})
}

type errorPayload struct {
	Error string `json:"error"`
}

type memberPayload struct {
	Identity        string    `json:"identity"`
	DisplayName     string    `json:"display_name,omitempty"`
	PlatformUserID  int64     `json:"platform_user_id,omitempty"`
	State           string    `json:"state"`
	InviteLink      string    `json:"invite_link,omitempty"`
	InviteIssuedAt  time.Time `json:"invite_issued_at,omitzero"`
	InviteExpiresAt time.Time `json:"invite_expires_at,omitzero"`
	ActiveFrom      time.Time `json:"active_from,omitzero"`
	ExpiresAt       time.Time `json:"expires_at,omitzero"`
	RevokedAt       time.Time `json:"revoked_at,omitzero"`
	Warned          bool      `json:"warned,omitempty"`
}

func (a *API) memberPayload(m server.Member) memberPayload {
	p := memberPayload{}
	copier.Copy(&p, &m)
	p.State = m.State(a.now()).String()
	return p
}

func (a *API) handleRosterAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity    string `json:"identity"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request body"})
		return
	}
	identity := server.NormalizeIdentity(req.Identity)
	if identity == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "identity is required"})
		return
	}
	if err := a.Members.UpsertRoster(r.Context(), identity, req.DisplayName); err != nil {
		a.internal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRosterRemove(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if err := a.Issuer.Withdraw(r.Context(), identity); err != nil {
		if errors.Is(err, shared.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, errorPayload{Error: "member not found"})
			return
		}
		a.internal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.Members.ListKnown(r.Context())
	if err != nil {
		a.internal(w, err)
		return
	}
	payload := make([]memberPayload, 0, len(members))
	for _, m := range members {
		payload = append(payload, a.memberPayload(m))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleGetMember(w http.ResponseWriter, r *http.Request) {
	m, err := a.Members.GetByIdentity(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		if errors.Is(err, shared.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, errorPayload{Error: "member not found"})
			return
		}
		a.internal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.memberPayload(m))
}

func (a *API) handleRequestInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := a.Issuer.RequestInvitation(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		switch {
		case errors.Is(err, server.ErrNotOnRoster):
			writeJSON(w, http.StatusNotFound, errorPayload{Error: "identity is not on the roster"})
		case errors.Is(err, server.ErrAlreadyIssued):
			writeJSON(w, http.StatusConflict, errorPayload{Error: "an invitation was already issued for this identity"})
		case errors.Is(err, server.ErrAlreadyActive):
			writeJSON(w, http.StatusConflict, errorPayload{Error: "this identity already has an active subscription"})
		default:
			a.internal(w, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Link      string    `json:"link"`
		ExpiresAt time.Time `json:"expires_at"`
	}{Link: inv.Link, ExpiresAt: inv.ExpiresAt})
}

func (a *API) handleReissue(w http.ResponseWriter, r *http.Request) {
	if err := a.Issuer.Reissue(r.Context(), chi.URLParam(r, "identity")); err != nil {
		if errors.Is(err, shared.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, errorPayload{Error: "member not found"})
			return
		}
		a.internal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := a.Sweeper.Run(r.Context()); err != nil {
		a.internal(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Members.Counts(r.Context(), a.now())
	if err != nil {
		a.internal(w, err)
		return
	}
	p := struct {
		Total   int `json:"total"`
		Active  int `json:"active"`
		Expired int `json:"expired"`
	}{}
	copier.Copy(&p, &counts)
	writeJSON(w, http.StatusOK, p)
}

// handleExport streams the subscription log as CSV, one row per known
// member.
func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	members, err := a.Members.ListKnown(r.Context())
	if err != nil {
		a.internal(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="members.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"identity", "display_name", "platform_user_id", "state", "active_from", "expires_at", "revoked_at"})
	now := a.now()
	for _, m := range members {
		cw.Write([]string{
			m.Identity,
			m.DisplayName,
			formatUserID(m.PlatformUserID),
			m.State(now).String(),
			formatTime(m.ActiveFrom),
			formatTime(m.ExpiresAt),
			formatTime(m.RevokedAt),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to stream member export")
	}
}

func (a *API) internal(w http.ResponseWriter, err error) {
	a.Logger.Error().Err(err).Msg("admin request failed")
	writeJSON(w, http.StatusInternalServerError, errorPayload{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatUserID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
