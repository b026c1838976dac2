package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// SendAPI accepts push messages and queues them for asynchronous dispatch.
type SendAPI struct {
	Apps     push.ApplicationStore
	Producer push.IngestionProducer
	Logger   *slog.Logger
}

func NewSendAPI(apps push.ApplicationStore, producer push.IngestionProducer, logger *slog.Logger) *SendAPI {
	return &SendAPI{
		Apps:     apps,
		Producer: producer,
		Logger:   logger.With("component", "SendAPI"),
	}
}

type SendResponse struct {
	ID string `json:"id"`
}

// Send handles POST /api/v1/applications/{appID}/send. The message is accepted
// once it is on the ingestion topic; delivery happens later in the pipeline.
func (api *SendAPI) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := r.PathValue("appID")
	if appID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing application id")
		return
	}

	var msg push.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !msg.HasNativePayload() && !msg.HasSimplePushPayload() {
		response.WriteJSONError(w, http.StatusBadRequest, "message has neither data nor simple-push payload")
		return
	}

	if _, err := api.Apps.FindApplication(ctx, appID); err != nil {
		if errors.Is(err, push.ErrApplicationNotFound) {
			response.WriteJSONError(w, http.StatusNotFound, "push application not found")
			return
		}
		api.Logger.Error("failed to load push application", "application_id", appID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	// Client supplied ids are not trusted to be unique.
	msg.ID = uuid.NewString()
	if err := api.Producer.Publish(ctx, &push.SendRequest{ApplicationID: appID, Message: msg}); err != nil {
		api.Logger.Error("failed to queue send request", "application_id", appID, "message_id", msg.ID, "err", err)
		response.WriteJSONError(w, http.StatusServiceUnavailable, "failed to queue message")
		return
	}
	api.Logger.Info("Send request queued", "application_id", appID, "message_id", msg.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SendResponse{ID: msg.ID})
}
