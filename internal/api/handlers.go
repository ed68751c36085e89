package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skobkin/meshola/internal/app"
	"github.com/skobkin/meshola/internal/connectors"
	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/meshcore"
	"github.com/skobkin/meshola/internal/profile"
	"github.com/skobkin/meshola/internal/protocol"
	"github.com/skobkin/meshola/internal/wire"
)

const maxBodyBytes = 64 << 10

var errBadRequest = errors.New("bad request")

type statusResponse struct {
	connectors.StatusView
	NodeName  string `json:"nodeName"`
	PublicKey string `json:"publicKey"`
}

type protocolView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DisplayName  string `json:"displayName"`
	Version      string `json:"version"`
	Description  string `json:"description"`
	Capabilities uint32 `json:"capabilities"`
}

type profileView struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	CreatedAt  time.Time          `json:"createdAt"`
	LastUsedAt time.Time          `json:"lastUsedAt"`
	ProtocolID string             `json:"protocolId"`
	NodeName   string             `json:"nodeName"`
	PublicKey  string             `json:"publicKey,omitempty"`
	Radio      domain.RadioConfig `json:"radio"`
	IsActive   bool               `json:"isActive"`
}

func newProfileView(p profile.Profile, activeID string) profileView {
	v := profileView{
		ID:         p.ID,
		Name:       p.Name,
		CreatedAt:  p.CreatedAt,
		LastUsedAt: p.LastUsedAt,
		ProtocolID: p.ProtocolID,
		NodeName:   p.NodeName,
		Radio:      p.Radio,
		IsActive:   p.ID == activeID,
	}
	if p.HasKeys {
		v.PublicKey = p.PublicKey.String()
	}

	return v
}

type createProfileRequest struct {
	Name string `json:"name"`
}

type conversationView struct {
	Key       string `json:"key"`
	PublicKey string `json:"publicKey,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	IsChannel bool   `json:"isChannel"`
	Count     int    `json:"count"`
}

type favoriteRequest struct {
	Favorite *bool `json:"favorite"`
}

type channelRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsPublic bool   `json:"isPublic"`
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	AckID uint32 `json:"ackId,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.Status()
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	name, key, err := s.backend.NodeInfo()
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, statusResponse{
		StatusView: connectors.NewStatusView(st),
		NodeName:   name,
		PublicKey:  key.String(),
	})
}

func (s *Server) handleGetRadio(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.backend.RadioConfig())
}

func (s *Server) handlePutRadio(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RadioConfig
	if err := decodeJSON(r, &cfg); err != nil {
		s.respondServiceError(w, err)
		return
	}
	if err := s.backend.SetRadioConfig(cfg); err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, s.backend.RadioConfig())
}

func (s *Server) handleStartRadio(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.StartRadio(); err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.handleStatus(w, r)
}

func (s *Server) handleStopRadio(w http.ResponseWriter, r *http.Request) {
	s.backend.StopRadio()
	s.handleStatus(w, r)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	active, _ := s.backend.ActiveProfile()
	list := s.backend.Profiles()
	out := make([]profileView, 0, len(list))
	for _, p := range list {
		out = append(out, newProfileView(p, active.ID))
	}

	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, err)
		return
	}
	p, err := s.backend.CreateProfile(req.Name)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	active, _ := s.backend.ActiveProfile()

	s.respondJSON(w, http.StatusCreated, newProfileView(p, active.ID))
}

func (s *Server) handleActiveProfile(w http.ResponseWriter, r *http.Request) {
	active, ok := s.backend.ActiveProfile()
	if !ok {
		s.respondServiceError(w, profile.ErrNotFound)
		return
	}

	s.respondJSON(w, http.StatusOK, newProfileView(active, active.ID))
}

func (s *Server) handleActivateProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.SwitchProfile(chi.URLParam(r, "id")); err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.handleActiveProfile(w, r)
}

func (s *Server) handleRenameProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, err)
		return
	}
	p, err := s.backend.RenameProfile(chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	active, _ := s.backend.ActiveProfile()

	s.respondJSON(w, http.StatusOK, newProfileView(p, active.ID))
}

func (s *Server) handleRegenerateKeys(w http.ResponseWriter, r *http.Request) {
	p, err := s.backend.RegenerateProfileKeys(chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	active, _ := s.backend.ActiveProfile()

	s.respondJSON(w, http.StatusOK, newProfileView(p, active.ID))
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteProfile(chi.URLParam(r, "id")); err != nil {
		s.respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, connectors.NewContactViews(s.backend.Contacts(offset, limit)))
}

func (s *Server) handleFavoriteContact(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParsePublicKey(chi.URLParam(r, "key"))
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	req := favoriteRequest{}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.respondServiceError(w, err)
		return
	}
	favorite := req.Favorite == nil || *req.Favorite

	c, err := s.backend.SetContactFavorite(key, favorite)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, connectors.NewContactView(c))
}

func (s *Server) handlePromoteContact(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParsePublicKey(chi.URLParam(r, "key"))
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	c, err := s.backend.PromoteContact(key)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, connectors.NewContactView(c))
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParsePublicKey(chi.URLParam(r, "key"))
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if err := s.backend.RemoveContact(key); err != nil {
		s.respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	entries := s.backend.Protocols()
	out := make([]protocolView, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocolView{
			ID:           e.ID,
			Name:         e.Name,
			DisplayName:  e.DisplayName(),
			Version:      e.Info.Version,
			Description:  e.Info.Description,
			Capabilities: e.Info.Capabilities,
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.backend.Conversations()
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	out := make([]conversationView, 0, len(list))
	for _, c := range list {
		v := conversationView{Key: c.Key, IsChannel: c.IsChannel, Count: c.Count}
		if c.IsChannel {
			v.ChannelID = c.Channel.String()
		} else {
			v.PublicKey = c.Contact.String()
		}
		out = append(out, v)
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, connectors.NewChannelViews(s.backend.Channels()))
}

func (s *Server) handlePutChannel(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid channel index")
		return
	}
	var req channelRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, err)
		return
	}
	id, err := domain.ParseChannelID(req.ID)
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	ch, err := s.backend.SetChannel(index, domain.Channel{
		ID:       id,
		Name:     req.Name,
		IsPublic: req.IsPublic,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, connectors.NewChannelView(ch))
}

func (s *Server) handleDirectHistory(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParsePublicKey(chi.URLParam(r, "key"))
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	limit, err := queryInt(r, "limit", s.cfg.HistoryLimit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	history, err := s.backend.ContactHistory(key, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, connectors.NewMessageViews(history))
}

func (s *Server) handleSendDirect(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParsePublicKey(chi.URLParam(r, "key"))
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, err)
		return
	}
	ackID, err := s.backend.SendDirect(key, req.Text)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, sendResponse{AckID: ackID})
}

func (s *Server) handleChannelHistory(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseChannelID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	limit, err := queryInt(r, "limit", s.cfg.HistoryLimit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	history, err := s.backend.ChannelHistory(id, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, connectors.NewMessageViews(history))
}

func (s *Server) handleSendChannel(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseChannelID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, err)
		return
	}
	if err := s.backend.SendChannel(id, req.Text); err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, sendResponse{})
}

func (s *Server) handleAdvert(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.SendAdvertisement(); err != nil {
		s.respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// decodeJSON wraps errBadRequest. An empty body still matches io.EOF.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body: %w", errBadRequest, err)
		}

		return fmt.Errorf("%w: invalid json: %w", errBadRequest, err)
	}

	return nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}

	return v, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, protocol.ErrEmptyText),
		errors.Is(err, protocol.ErrInvalidName),
		errors.Is(err, protocol.ErrIndexOutOfRange),
		errors.Is(err, wire.ErrTooLarge),
		errors.Is(err, domain.ErrInvalidRadioConfig),
		errors.Is(err, profile.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrUnknownContact),
		errors.Is(err, app.ErrUnknownChannel),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, protocol.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, profile.ErrLastProfile),
		errors.Is(err, profile.ErrMaxProfiles),
		errors.Is(err, meshcore.ErrDuplicateChannel),
		errors.Is(err, protocol.ErrTableFull):
		return http.StatusConflict
	case errors.Is(err, app.ErrNotStarted),
		errors.Is(err, protocol.ErrNotRunning),
		errors.Is(err, protocol.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}

	s.respondError(w, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
