package entitlement

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenColumn/OC-Backend/internal/identity"
	"github.com/OpenColumn/OC-Backend/internal/logging"
)

// Handler exposes the entitlement HTTP surface. All role/flag mutations go
// through the Machine; the handler itself only reads.
type Handler struct {
	DB      *gorm.DB
	Machine *Machine
}

func (h *Handler) RequestElevationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		identity.Deny(w)
		return
	}

	var body struct {
		PackageType PackageType `json:"package_type"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request format", http.StatusBadRequest)
			return
		}
	}

	req, err := h.Machine.RequestElevation(r.Context(), id.UserID, body.PackageType)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyPending):
			http.Error(w, "An elevation request is already pending", http.StatusConflict)
		case errors.Is(err, ErrInvalidPurpose):
			http.Error(w, "Unknown package type", http.StatusBadRequest)
		default:
			http.Error(w, "Failed to create request", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(req)
}

// elevationResponse denormalizes the requesting user onto the request, which
// is what the admin UI renders in its review queue.
type elevationResponse struct {
	ElevationRequest
	Username string        `json:"username"`
	UserRole identity.Role `json:"user_role"`
}

func (h *Handler) denormalize(r *http.Request, reqs ...ElevationRequest) []elevationResponse {
	out := make([]elevationResponse, 0, len(reqs))
	for _, req := range reqs {
		resp := elevationResponse{ElevationRequest: req}
		var user identity.User
		if err := h.DB.WithContext(r.Context()).First(&user, "user_id = ?", req.UserID).Error; err == nil {
			resp.Username = user.Username
			resp.UserRole = user.Role
		}
		out = append(out, resp)
	}
	return out
}

func (h *Handler) PendingElevationsHandler(w http.ResponseWriter, r *http.Request) {
	var reqs []ElevationRequest
	if err := h.DB.WithContext(r.Context()).
		Where("status = ?", RequestPending).
		Order("requested_at").
		Find(&reqs).Error; err != nil {
		http.Error(w, "Failed to list requests", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.denormalize(r, reqs...))
}

func (h *Handler) ResolveElevationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		identity.Deny(w)
		return
	}

	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	var decision Decision
	switch strings.ToUpper(body.Status) {
	case "APPROVED":
		decision = DecisionApprove
	case "REJECTED":
		decision = DecisionReject
	default:
		http.Error(w, "Status must be APPROVED or REJECTED", http.StatusBadRequest)
		return
	}

	requestID := chi.URLParam(r, "id")
	req, err := h.Machine.ResolveElevation(r.Context(), requestID, decision, id.UserID, body.Message)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "Request not found", http.StatusNotFound)
		case errors.Is(err, ErrNotPending):
			http.Error(w, "Request already resolved", http.StatusConflict)
		default:
			logging.FromContext(r.Context()).Error("resolve elevation failed", "error", err)
			http.Error(w, "Failed to resolve request", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.denormalize(r, *req)[0])
}

func (h *Handler) CreateAdHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		identity.Deny(w)
		return
	}

	var body struct {
		Title     string    `json:"title"`
		StartDate time.Time `json:"start_date"`
		EndDate   time.Time `json:"end_date"`
		Placement string    `json:"placement"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if body.Title == "" || body.StartDate.IsZero() || body.EndDate.IsZero() {
		http.Error(w, "Title, start_date and end_date are required", http.StatusBadRequest)
		return
	}
	if body.EndDate.Before(body.StartDate) {
		http.Error(w, "end_date must not precede start_date", http.StatusBadRequest)
		return
	}

	ad := Advertisement{
		ID:        uuid.NewString(),
		OwnerID:   id.UserID,
		Title:     body.Title,
		Status:    AdPendingPayment,
		StartDate: body.StartDate,
		EndDate:   body.EndDate,
		Placement: body.Placement,
	}
	if err := h.DB.WithContext(r.Context()).Create(&ad).Error; err != nil {
		http.Error(w, "Failed to create advertisement", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ad)
}

func (h *Handler) MyAdsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		identity.Deny(w)
		return
	}

	var ads []Advertisement
	if err := h.DB.WithContext(r.Context()).
		Where("owner_id = ?", id.UserID).
		Order("created_at desc").
		Find(&ads).Error; err != nil {
		http.Error(w, "Failed to list advertisements", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ads)
}

// GetAdHandler returns one ad to its owner or an admin.
func (h *Handler) GetAdHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		identity.Deny(w)
		return
	}

	var ad Advertisement
	if err := h.DB.WithContext(r.Context()).First(&ad, "id = ?", chi.URLParam(r, "id")).Error; err != nil {
		http.Error(w, "Advertisement not found", http.StatusNotFound)
		return
	}

	if err := identity.Authorize(id, identity.CapSelfOrAdmin, ad.OwnerID); err != nil {
		identity.Deny(w)
		return
	}

	type adView struct {
		Advertisement
		EffectiveStatus AdStatus `json:"effective_status"`
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(adView{ad, EffectiveStatus(ad, time.Now())})
}

func (h *Handler) ApproveAdHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		identity.Deny(w)
		return
	}

	ad, err := h.Machine.ApproveAdvertisement(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "Advertisement not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to approve advertisement", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ad)
}

// ServingHandler is the public serving feed; repeat ?placement= to filter.
func (h *Handler) ServingHandler(w http.ResponseWriter, r *http.Request) {
	placements := r.URL.Query()["placement"]

	ads, err := ListServing(r.Context(), h.DB, placements, time.Now())
	if err != nil {
		http.Error(w, "Failed to list advertisements", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ads)
}
