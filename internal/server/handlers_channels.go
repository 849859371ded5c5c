package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/store"
)

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.deps.Query.ListChannels(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.deps.Query.GetChannel(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// timeLayouts are the accepted forms of the start and end query parameters.
// Values without an offset are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s: %q is not an ISO 8601 time", name, v)
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	programs, err := s.deps.Query.ListPrograms(r.Context(), chi.URLParam(r, "identifier"), start, end)
	if err != nil {
		fail(w, r, err)
		return
	}
	if programs == nil {
		programs = []models.Program{}
	}
	writeJSON(w, http.StatusOK, programs)
}

func (s *Server) handleListChannelAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := s.deps.Query.ListChannelAliases(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if aliases == nil {
		aliases = []models.ChannelAlias{}
	}
	writeJSON(w, http.StatusOK, aliases)
}

type createAliasRequest struct {
	Alias     string  `json:"alias" validate:"required,max=255"`
	AliasType *string `json:"alias_type" validate:"omitempty,max=50"`
}

func (s *Server) handleCreateChannelAlias(w http.ResponseWriter, r *http.Request) {
	var req createAliasRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	a, err := s.deps.Query.AddChannelAlias(r.Context(), chi.URLParam(r, "identifier"), req.Alias, req.AliasType)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleDeleteAlias(w http.ResponseWriter, r *http.Request) {
	aliasID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	ok, err := s.deps.Query.DeleteAlias(r.Context(), aliasID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !ok {
		writeErr(w, r, http.StatusNotFound, fmt.Errorf("alias %d not found", aliasID))
		return
	}
	writeNoContent(w)
}

func (s *Server) handleListAliases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.AliasFilter
	if v := q.Get("alias_type"); v != "" {
		filter.AliasType = &v
	}
	ints := []struct {
		name string
		dst  func(int64)
	}{
		{"channel_id", func(n int64) { filter.ChannelID = &n }},
		{"page", func(n int64) { filter.Page = int(n) }},
		{"per_page", func(n int64) { filter.PerPage = int(n) }},
	}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeErr(w, r, http.StatusBadRequest, fmt.Errorf("invalid %s: %s", p.name, v))
			return
		}
		p.dst(n)
	}

	page, err := s.deps.Query.ListAliases(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(page.Aliases),
		"total":    page.Total,
		"page":     page.Page,
		"per_page": page.PerPage,
		"aliases":  page.Aliases,
	})
}

func (s *Server) handleAliasMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.deps.Query.AliasMapping(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(mapping), "mapping": mapping})
}

func (s *Server) handleAliasStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Query.AliasStatistics(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
