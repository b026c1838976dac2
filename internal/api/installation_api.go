package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// InstallationAPI registers and removes devices of a variant.
type InstallationAPI struct {
	Variants push.VariantDirectory
	Store    push.InstallationStore
	Logger   *slog.Logger
}

func NewInstallationAPI(variants push.VariantDirectory, store push.InstallationStore, logger *slog.Logger) *InstallationAPI {
	return &InstallationAPI{
		Variants: variants,
		Store:    store,
		Logger:   logger.With("component", "InstallationAPI"),
	}
}

// RegisterInstallationRequest carries a device token, or for Chrome packaged apps
// the browser's PushSubscription object.
type RegisterInstallationRequest struct {
	DeviceToken  string          `json:"deviceToken"`
	Subscription json.RawMessage `json:"subscription,omitempty"`
	DeviceType   string          `json:"deviceType,omitempty"`
	Alias        string          `json:"alias,omitempty"`
	Categories   []string        `json:"categories,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
}

type webSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Register handles POST /api/v1/variants/{variantID}/installations.
func (api *InstallationAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	variant, ok := api.lookupVariant(w, r)
	if !ok {
		return
	}

	var req RegisterInstallationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	token := req.DeviceToken
	if variant.Kind() == push.KindChromePackagedApp && len(req.Subscription) > 0 {
		var sub webSubscription
		if err := json.Unmarshal(req.Subscription, &sub); err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
			return
		}
		// Validate the Web Object (The "Big JSON" keys must exist)
		if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
			api.Logger.Warn("Register: Validation failed", "reason", "incomplete subscription")
			response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
			return
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, req.Subscription); err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
			return
		}
		token = compact.String()
	}
	if token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device token")
		return
	}

	alias := req.Alias
	if alias == "" {
		// Devices default to the authenticated user so alias targeting reaches them.
		if userURN, err := urn.Parse(userID); err == nil {
			alias = userURN.String()
		} else {
			alias = userID
		}
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	installation := push.Installation{
		DeviceToken: token,
		DeviceType:  req.DeviceType,
		Alias:       alias,
		Categories:  req.Categories,
		Enabled:     enabled,
	}
	if err := api.Store.RegisterInstallation(ctx, variant.VariantID(), installation); err != nil {
		api.Logger.Error("failed to register installation", "variant_id", variant.VariantID(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Installation registered", "variant_id", variant.VariantID(), "kind", variant.Kind(), "alias", alias)

	w.WriteHeader(http.StatusNoContent)
}

// Unregister handles DELETE /api/v1/variants/{variantID}/installations/{token}.
func (api *InstallationAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	variant, ok := api.lookupVariant(w, r)
	if !ok {
		return
	}
	token := r.PathValue("token")
	if token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device token")
		return
	}

	if err := api.Store.UnregisterInstallation(ctx, variant.VariantID(), token); err != nil {
		api.Logger.Warn("failed to unregister installation", "variant_id", variant.VariantID(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister installation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *InstallationAPI) lookupVariant(w http.ResponseWriter, r *http.Request) (push.Variant, bool) {
	variantID := r.PathValue("variantID")
	if variantID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing variant id")
		return nil, false
	}

	variant, err := api.Variants.FindByVariantID(r.Context(), variantID)
	if err != nil {
		if errors.Is(err, push.ErrVariantNotFound) {
			response.WriteJSONError(w, http.StatusNotFound, "variant not found")
			return nil, false
		}
		api.Logger.Error("failed to load variant", "variant_id", variantID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return nil, false
	}
	return variant, true
}
