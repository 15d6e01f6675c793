package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rede-afiliados/api/internal/platform/auth"
	"github.com/rede-afiliados/api/internal/platform/httpx"
	"github.com/rede-afiliados/api/internal/services"
)

type ensureProfileRequest struct {
	FullName string `json:"full_name"`
	Referral string `json:"referral"`
}

type updateProfileRequest struct {
	FullName *string `json:"full_name"`
	PixKey   *string `json:"pix_key"`
}

type setNicknameRequest struct {
	Nickname string `json:"nickname"`
}

type profilePayload struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	Nickname      string `json:"nickname,omitempty"`
	ReferralCode  string `json:"referral_code"`
	Role          string `json:"role"`
	Balance       int64  `json:"balance"`
	TotalEarnings int64  `json:"total_earnings"`
	InvoiceLimit  int64  `json:"invoice_limit"`
	InvoiceDueDay int    `json:"invoice_due_day"`
	ReferredBy    string `json:"referred_by,omitempty"`
	PixKey        string `json:"pix_key,omitempty"`
	AvatarPath    string `json:"avatar_path,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type meResponse struct {
	Profile   profilePayload `json:"profile"`
	Delegated bool           `json:"delegated"`
	ActorID   string         `json:"actor_id,omitempty"`
}

type referralPayload struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Nickname  string `json:"nickname,omitempty"`
	CreatedAt string `json:"created_at"`
}

type networkPayload struct {
	Profile      profilePayload      `json:"profile"`
	ReferralLink string              `json:"referral_link"`
	Referrals    []referralPayload   `json:"referrals"`
	Withdrawals  []withdrawalPayload `json:"withdrawals"`
}

type notificationPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

type inboxPayload struct {
	Items  []notificationPayload `json:"items"`
	Unread int                   `json:"unread"`
}

// MeHandlers exposes the effective user's profile, network and notifications.
type MeHandlers struct {
	authn         *auth.Authenticator
	profiles      services.ProfileService
	notifications services.NotificationService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before invoking the profile service.
func NewMeHandlers(authn *auth.Authenticator, profiles services.ProfileService, notifications services.NotificationService) *MeHandlers {
	return &MeHandlers{
		authn:         authn,
		profiles:      profiles,
		notifications: notifications,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
	r.Post("/", h.ensureProfile)
	r.Patch("/", h.updateProfile)
	r.Put("/nickname", h.setNickname)
	r.Post("/avatar:upload-url", h.avatarUploadURL)
	r.Get("/network", h.network)
	r.Get("/notifications", h.listNotifications)
	r.Post("/notifications:read-all", h.markAllRead)
	r.Post("/notifications/{notificationID}:read", h.markRead)
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		writeUnavailable(ctx, w, "profile")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	profile, err := h.profiles.Get(ctx, identity.EffectiveUID())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := meResponse{Profile: buildProfilePayload(profile), Delegated: identity.IsDelegated()}
	if identity.IsDelegated() {
		resp.ActorID = actorID(identity)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *MeHandlers) ensureProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		writeUnavailable(ctx, w, "profile")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req ensureProfileRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			writeDecodeError(ctx, w, err)
			return
		}
	}

	profile, err := h.profiles.EnsureProfile(ctx, services.EnsureProfileCommand{
		UserID:         identity.EffectiveUID(),
		Email:          identity.Email,
		FullName:       req.FullName,
		ReferralHandle: strings.TrimSpace(req.Referral),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(profile)})
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		writeUnavailable(ctx, w, "profile")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if req.FullName == nil && req.PixKey == nil {
		writeBadRequest(ctx, w, "no editable fields provided")
		return
	}

	profile, err := h.profiles.UpdateSettings(ctx, services.UpdateProfileCommand{
		UserID:   identity.EffectiveUID(),
		FullName: req.FullName,
		PixKey:   req.PixKey,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(profile)})
}

func (h *MeHandlers) setNickname(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		writeUnavailable(ctx, w, "profile")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req setNicknameRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	profile, err := h.profiles.SetNickname(ctx, services.SetNicknameCommand{
		UserID:   identity.EffectiveUID(),
		Nickname: req.Nickname,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(profile)})
}

func (h *MeHandlers) avatarUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		writeUnavailable(ctx, w, "profile")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req uploadURLRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	upload, err := h.profiles.AvatarUploadURL(ctx, services.AvatarUploadCommand{
		UserID:      identity.EffectiveUID(),
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSignedUploadPayload(upload))
}

func (h *MeHandlers) network(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		writeUnavailable(ctx, w, "profile")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	overview, err := h.profiles.Network(ctx, identity.EffectiveUID())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := networkPayload{
		Profile:      buildProfilePayload(overview.Profile),
		ReferralLink: overview.ReferralLink,
		Referrals:    make([]referralPayload, 0, len(overview.Referrals)),
		Withdrawals:  make([]withdrawalPayload, 0, len(overview.Withdrawals)),
	}
	for _, referral := range overview.Referrals {
		payload.Referrals = append(payload.Referrals, referralPayload{
			ID:        referral.ID,
			FullName:  referral.FullName,
			Nickname:  referral.Nickname,
			CreatedAt: formatTime(referral.CreatedAt),
		})
	}
	for _, withdrawal := range overview.Withdrawals {
		payload.Withdrawals = append(payload.Withdrawals, buildWithdrawalPayload(withdrawal))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MeHandlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		writeUnavailable(ctx, w, "notification")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	inbox, err := h.notifications.List(ctx, identity.EffectiveUID())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildInboxPayload(inbox))
}

func (h *MeHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		writeUnavailable(ctx, w, "notification")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	notificationID := strings.TrimSpace(chi.URLParam(r, "notificationID"))
	if notificationID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "notification id is required", http.StatusBadRequest))
		return
	}

	if err := h.notifications.MarkRead(ctx, identity.EffectiveUID(), notificationID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		writeUnavailable(ctx, w, "notification")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	updated, err := h.notifications.MarkAllRead(ctx, identity.EffectiveUID())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int{"updated": updated})
}

func buildProfilePayload(profile services.Profile) profilePayload {
	return profilePayload{
		ID:            profile.ID,
		Email:         profile.Email,
		FullName:      profile.FullName,
		Nickname:      profile.Nickname,
		ReferralCode:  profile.ReferralCode,
		Role:          string(profile.Role),
		Balance:       profile.Balance,
		TotalEarnings: profile.TotalEarnings,
		InvoiceLimit:  profile.EffectiveInvoiceLimit(),
		InvoiceDueDay: profile.EffectiveInvoiceDueDay(),
		ReferredBy:    profile.ReferredBy,
		PixKey:        profile.PixKey,
		AvatarPath:    profile.AvatarPath,
		CreatedAt:     formatTime(profile.CreatedAt),
		UpdatedAt:     formatTime(profile.UpdatedAt),
	}
}

func buildInboxPayload(inbox services.NotificationInbox) inboxPayload {
	items := make([]notificationPayload, 0, len(inbox.Items))
	for _, n := range inbox.Items {
		items = append(items, buildNotificationPayload(n))
	}
	return inboxPayload{Items: items, Unread: inbox.Unread}
}

func buildNotificationPayload(n services.Notification) notificationPayload {
	return notificationPayload{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Read:      n.Read,
		CreatedAt: formatTime(n.CreatedAt),
	}
}
