package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"smart-locker-backend/internal/session"
	"smart-locker-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	registry *session.Registry
	webpush  *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, reg *session.Registry, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:    s,
		registry: reg,
		webpush:  webpushOptions,
	}
}
