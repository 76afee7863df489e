package handlers

import (
	"encoding/json"
	"log"
	"net/http"
)

// HTTPHandler wires all HTTP endpoints onto the mux
type HTTPHandler struct {
	webhookHandler *WebhookHandler
	caseHandler    *CaseHandler
	authHandler    *AuthHandler
	eventsHandler  *EventsWSHandler
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(webhookHandler *WebhookHandler, caseHandler *CaseHandler, authHandler *AuthHandler, eventsHandler *EventsWSHandler) *HTTPHandler {
	return &HTTPHandler{
		webhookHandler: webhookHandler,
		caseHandler:    caseHandler,
		authHandler:    authHandler,
		eventsHandler:  eventsHandler,
	}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)

	if h.webhookHandler != nil {
		mux.HandleFunc("/webhook/alert/grafana", h.webhookHandler.HandleWebhook)
	}
	if h.caseHandler != nil {
		h.caseHandler.SetupRoutes(mux)
	}
	if h.authHandler != nil {
		h.authHandler.SetupRoutes(mux)
	}
	if h.eventsHandler != nil {
		h.eventsHandler.SetupRoutes(mux)
	}
}

// handleHealth returns a simple health check response
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]string{
		"status":  "ok",
		"version": "1.0.0",
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}
