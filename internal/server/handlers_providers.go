package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/service"
	"github.com/voyagen/guidevault/internal/store"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	providers, err := s.deps.Providers.List(r.Context(), enabledOnly)
	if err != nil {
		fail(w, r, err)
		return
	}
	if providers == nil {
		providers = []models.Provider{}
	}
	writeJSON(w, http.StatusOK, providers)
}

type createProviderRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	XMLTVURL string `json:"xmltv_url" validate:"required,http_url"`
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req createProviderRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	pr, err := s.deps.Providers.Create(r.Context(), strings.TrimSpace(req.Name), req.XMLTVURL)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pr)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	providerID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	pr, err := s.deps.Providers.Get(r.Context(), providerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, r, http.StatusNotFound, fmt.Errorf("provider %d not found", providerID))
			return
		}
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

type updateProviderRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=255"`
	XMLTVURL *string `json:"xmltv_url" validate:"omitempty,http_url"`
	Enabled  *bool   `json:"enabled"`
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	providerID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	var req updateProviderRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	pr, err := s.deps.Providers.Update(r.Context(), providerID, store.ProviderUpdate{
		Name:     req.Name,
		XMLTVURL: req.XMLTVURL,
		Enabled:  req.Enabled,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	providerID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Providers.Delete(r.Context(), providerID); err != nil {
		fail(w, r, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	providerID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := s.deps.Providers.Test(r.Context(), providerID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTriggerProviderImport validates the provider and imports it in the
// background. Feeds can take longer than the write timeout.
func (s *Server) handleTriggerProviderImport(w http.ResponseWriter, r *http.Request) {
	providerID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	pr, err := s.deps.Providers.Get(r.Context(), providerID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !pr.Enabled {
		writeErr(w, r, http.StatusConflict, fmt.Errorf("provider %d: %w", providerID, service.ErrProviderDisabled))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s.background(func() {
		if _, err := s.deps.Importer.ImportProvider(ctx, providerID); err != nil {
			log := s.log.With().Int64("provider_id", providerID).Logger()
			if errors.Is(err, service.ErrImportInProgress) {
				log.Warn().Err(err).Msg("triggered import skipped")
				return
			}
			log.Error().Err(err).Msg("triggered import failed")
		}
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":     true,
		"message":     fmt.Sprintf("Import triggered for provider %d", providerID),
		"provider_id": providerID,
	})
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	s.listMappings(w, r, nil)
}

func (s *Server) handleListProviderMappings(w http.ResponseWriter, r *http.Request) {
	providerID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	s.listMappings(w, r, &providerID)
}

func (s *Server) listMappings(w http.ResponseWriter, r *http.Request, providerID *int64) {
	mappings, err := s.deps.Query.ListMappings(r.Context(), providerID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if mappings == nil {
		mappings = []models.ChannelMapping{}
	}
	writeJSON(w, http.StatusOK, mappings)
}

type createMappingRequest struct {
	ProviderChannelID string `json:"provider_channel_id" validate:"required"`
	Channel           string `json:"channel" validate:"required"`
}

func (s *Server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	providerID, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	var req createMappingRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	m, err := s.deps.Query.MapProviderChannel(r.Context(), providerID, req.ProviderChannelID, req.Channel)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}
