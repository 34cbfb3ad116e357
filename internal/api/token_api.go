package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// TokenAPI handles device registration for the three delivery platforms.
// The authenticated user comes from the request context, never the body, so
// a client can only ever manage its own devices.
type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger,
	}
}

// TokenRequest carries a single opaque device token. Register and
// unregister for both mobile platforms share it.
type TokenRequest struct {
	Token string `json:"token"`
}

// UnregisterWebRequest identifies a subscription by its endpoint URL.
type UnregisterWebRequest struct {
	Endpoint string `json:"endpoint"`
}

// --- Door A: FCM ---

func (api *TokenAPI) RegisterFCM(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, ok := api.decodeTokenRequest(w, r)
	if !ok {
		return
	}

	if err := api.Store.RegisterFCM(ctx, userID, req.Token); err != nil {
		api.Logger.Error("failed to register fcm token", "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *TokenAPI) UnregisterFCM(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, ok := api.decodeTokenRequest(w, r)
	if !ok {
		return
	}

	if err := api.Store.UnregisterFCM(ctx, userID, req.Token); err != nil {
		// Unregister stays idempotent; log and report success anyway.
		api.Logger.Warn("failed to unregister fcm token", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Door B: APNs ---

func (api *TokenAPI) RegisterAPNS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, ok := api.decodeTokenRequest(w, r)
	if !ok {
		return
	}

	if err := api.Store.RegisterAPNS(ctx, userID, req.Token); err != nil {
		api.Logger.Error("failed to register apns token", "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *TokenAPI) UnregisterAPNS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, ok := api.decodeTokenRequest(w, r)
	if !ok {
		return
	}

	if err := api.Store.UnregisterAPNS(ctx, userID, req.Token); err != nil {
		api.Logger.Warn("failed to unregister apns token", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Door C: Web (VAPID) ---

func (api *TokenAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var sub dispatch.WebPushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		api.Logger.Error("RegisterWeb: JSON decode failed", "err", err)
		WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	// A subscription without its encryption keys can never be delivered to.
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		api.Logger.Warn("RegisterWeb: validation failed", "reason", "missing fields")
		WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	if err := api.Store.RegisterWeb(ctx, userID, sub); err != nil {
		api.Logger.Error("failed to register web subscription", "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterWeb: subscription registered", "user", userID, "endpoint", sub.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

func (api *TokenAPI) UnregisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UnregisterWebRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.Endpoint == "" {
		WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	if err := api.Store.UnregisterWeb(ctx, userID, req.Endpoint); err != nil {
		api.Logger.Warn("failed to unregister web subscription", "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "failed to unregister web")
		return
	}
	api.Logger.Info("UnregisterWeb: subscription removed", "user", userID, "endpoint", req.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (api *TokenAPI) decodeTokenRequest(w http.ResponseWriter, r *http.Request) (TokenRequest, bool) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return req, false
	}
	if req.Token == "" {
		WriteJSONError(w, http.StatusBadRequest, "missing token")
		return req, false
	}
	return req, true
}
