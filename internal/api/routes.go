package api

import "github.com/go-chi/chi/v5"

func (s *Server) setupAPIRoutes(r chi.Router) {
	r.Get("/status", s.handleStatus)
	r.Get("/protocols", s.handleListProtocols)

	r.Route("/radio", func(r chi.Router) {
		r.Get("/", s.handleGetRadio)
		r.Put("/", s.handlePutRadio)
		r.Post("/start", s.handleStartRadio)
		r.Post("/stop", s.handleStopRadio)
	})

	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", s.handleListProfiles)
		r.Post("/", s.handleCreateProfile)
		r.Get("/active", s.handleActiveProfile)
		r.Patch("/{id}", s.handleRenameProfile)
		r.Post("/{id}/activate", s.handleActivateProfile)
		r.Post("/{id}/keys", s.handleRegenerateKeys)
		r.Delete("/{id}", s.handleDeleteProfile)
	})

	r.Route("/contacts", func(r chi.Router) {
		r.Get("/", s.handleListContacts)
		r.Post("/{key}/favorite", s.handleFavoriteContact)
		r.Post("/{key}/promote", s.handlePromoteContact)
		r.Delete("/{key}", s.handleRemoveContact)
	})

	r.Route("/channels", func(r chi.Router) {
		r.Get("/", s.handleListChannels)
		r.Put("/{index}", s.handlePutChannel)
	})

	r.Get("/conversations", s.handleListConversations)

	r.Route("/messages", func(r chi.Router) {
		r.Get("/direct/{key}", s.handleDirectHistory)
		r.Post("/direct/{key}", s.handleSendDirect)
		r.Get("/channel/{id}", s.handleChannelHistory)
		r.Post("/channel/{id}", s.handleSendChannel)
	})

	r.Post("/advert", s.handleAdvert)
}
