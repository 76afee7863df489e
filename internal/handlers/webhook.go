package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/revguard/revguard/internal/alerts"
	"github.com/revguard/revguard/internal/alerts/adapters"
	"github.com/revguard/revguard/internal/api"
	"github.com/revguard/revguard/internal/services"
)

// WebhookHandler is the thin HTTP entry point for Grafana alert webhooks.
// It normalizes the payload and drives the correlation pipeline; the response
// code tells the upstream notifier whether to retry (5xx) or not (2xx/4xx).
type WebhookHandler struct {
	adapter     *adapters.GrafanaAdapter
	correlation *services.CorrelationService
	secret      string
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(adapter *adapters.GrafanaAdapter, correlation *services.CorrelationService, secret string) *WebhookHandler {
	return &WebhookHandler{
		adapter:     adapter,
		correlation: correlation,
		secret:      secret,
	}
}

// WebhookAlertResult reports the outcome for one alert in the payload
type WebhookAlertResult struct {
	Fingerprint string `json:"fingerprint"`
	Decision    string `json:"decision"`
	CaseUUID    string `json:"case_uuid,omitempty"`
	CaseNumber  string `json:"case_number,omitempty"`
}

// WebhookResponse is the response body for webhook deliveries
type WebhookResponse struct {
	Received int                  `json:"received"`
	Results  []WebhookAlertResult `json:"results"`
}

// HandleWebhook processes incoming Grafana webhook deliveries.
// Route: /webhook/alert/grafana
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := h.adapter.ValidateWebhookSecret(r, h.secret); err != nil {
		log.Printf("Webhook secret validation failed: %v", err)
		api.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Error reading webhook body: %v", err)
		api.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	events, err := h.adapter.ParsePayload(body)
	if err != nil {
		log.Printf("Malformed webhook payload: %v", err)
		api.RespondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	log.Printf("Received %d alerts from grafana webhook", len(events))

	response := WebhookResponse{Received: len(events)}
	created := false

	for _, event := range events {
		event.Fingerprint = alerts.ResolveFingerprint(event)

		result, err := h.correlation.Process(event)
		if err != nil {
			// Retryable: the notifier resends on 5xx. The alert event's
			// received record survives if it was persisted before the
			// failure point.
			log.Printf("Correlation failed for fingerprint %s: %v", event.Fingerprint, err)
			if errors.Is(err, services.ErrInvalidTransition) {
				api.RespondError(w, http.StatusConflict, "Alert could not be correlated")
				return
			}
			api.RespondError(w, http.StatusInternalServerError, "Failed to process alert")
			return
		}

		entry := WebhookAlertResult{
			Fingerprint: result.Event.Fingerprint,
			Decision:    string(result.Decision),
		}
		if result.Case != nil {
			entry.CaseUUID = result.Case.UUID
			entry.CaseNumber = result.Case.CaseNumber
		}
		response.Results = append(response.Results, entry)

		switch result.Decision {
		case services.DecisionCreateCase, services.DecisionAttachToCase, services.DecisionResolveCandidate:
			created = true
		}
	}

	status := http.StatusOK // all ignored/duplicate
	if created {
		status = http.StatusCreated
	}
	api.RespondJSON(w, status, response)
}
