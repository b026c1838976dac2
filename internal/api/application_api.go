package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// ApplicationAPI maintains the application registry the dispatcher reads.
type ApplicationAPI struct {
	Store  push.ApplicationWriter
	Logger *slog.Logger
}

func NewApplicationAPI(store push.ApplicationWriter, logger *slog.Logger) *ApplicationAPI {
	return &ApplicationAPI{
		Store:  store,
		Logger: logger.With("component", "ApplicationAPI"),
	}
}

// Save handles PUT /api/v1/applications/{appID}. The body is the full application
// with its variants grouped by platform.
func (api *ApplicationAPI) Save(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("appID")
	if appID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing application id")
		return
	}

	var app push.Application
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if app.ID == "" {
		app.ID = appID
	}
	if app.ID != appID {
		response.WriteJSONError(w, http.StatusBadRequest, "application id does not match path")
		return
	}
	for _, v := range app.Variants() {
		if v.VariantID() == "" {
			response.WriteJSONError(w, http.StatusBadRequest, "variant without id")
			return
		}
	}

	if err := api.Store.SaveApplication(r.Context(), &app); err != nil {
		api.Logger.Error("failed to save push application", "application_id", appID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Push application saved", "application_id", appID, "variants", len(app.Variants()))

	w.WriteHeader(http.StatusNoContent)
}

// SaveVariant handles PUT /api/v1/applications/{appID}/variants/{kind}.
func (api *ApplicationAPI) SaveVariant(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("appID")
	if appID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing application id")
		return
	}
	kind, err := push.ParseKind(r.PathValue("kind"))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown variant kind")
		return
	}

	var variant push.Variant
	switch kind {
	case push.KindAndroid:
		variant = &push.AndroidVariant{}
	case push.KindIOS:
		variant = &push.IOSVariant{}
	case push.KindSimplePush:
		variant = &push.SimplePushVariant{}
	case push.KindChromePackagedApp:
		variant = &push.ChromePackagedAppVariant{}
	}
	if err := json.NewDecoder(r.Body).Decode(variant); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if variant.VariantID() == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing variant id")
		return
	}

	if err := api.Store.SaveVariant(r.Context(), appID, variant); err != nil {
		api.Logger.Error("failed to save variant", "application_id", appID, "variant_id", variant.VariantID(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Variant saved", "application_id", appID, "variant_id", variant.VariantID(), "kind", kind)

	w.WriteHeader(http.StatusNoContent)
}
