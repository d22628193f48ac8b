// internal/rewards/handler.go
package rewards

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"campusevents/internal/platform"
)

type Handler struct {
	service Service
	log     *slog.Logger
	writes  *rate.Limiter
}

func NewHandler(service Service, log *slog.Logger, writes *rate.Limiter) *Handler {
	return &Handler{service: service, log: log, writes: writes}
}

// Routes mounts the rewards API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/leaderboard", h.handleLeaderboard)

	r.Route("/rewards", func(r chi.Router) {
		r.Get("/{userID}", h.handleGet)
		r.Get("/{userID}/history", h.handleHistory)
		r.Get("/{userID}/redemptions", h.handleListRedemptions)

		r.Group(func(r chi.Router) {
			r.Use(platform.RateLimit(h.writes))
			r.Post("/points", h.handleGrantPoints)
			r.Post("/{userID}/badges", h.handleAwardBadge)
			r.Post("/{userID}/achievements", h.handleCreateAchievement)
			r.Put("/{userID}/achievements/{title}", h.handleProgressAchievement)
		})
	})

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/", h.handleListItems)
		r.Get("/{itemID}", h.handleGetItem)

		r.Group(func(r chi.Router) {
			r.Use(platform.RateLimit(h.writes))
			r.Post("/", h.handleCreateItem)
			r.Put("/{itemID}", h.handleUpdateItem)
			r.Delete("/{itemID}", h.handleDeleteItem)
			r.Post("/{itemID}/redeem", h.handleRedeem)
		})
	})

	r.With(platform.RateLimit(h.writes)).Put("/redemptions/{redemptionID}/status", h.handleRedemptionStatus)
	r.With(platform.RateLimit(h.writes)).Post("/maintenance/expire", h.handleExpire)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, err := platform.PathUUID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	reward, err := h.service.GetOrCreate(r.Context(), userID)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, reward)
}

type grantResponse struct {
	Points    int       `json:"points"`
	LevelInfo LevelInfo `json:"level_info"`
	Message   string    `json:"message"`
}

func (h *Handler) handleGrantPoints(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	req.AddedBy = platform.ActorID(r)

	reward, err := h.service.GrantPoints(r.Context(), req)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}

	dir := "added to"
	if req.Amount < 0 {
		dir = "deducted from"
	}
	platform.WriteJSON(w, http.StatusOK, grantResponse{
		Points:    reward.Total,
		LevelInfo: reward.LevelInfo,
		Message:   fmt.Sprintf("%d points %s user's account", abs(req.Amount), dir),
	})
}

func (h *Handler) handleAwardBadge(w http.ResponseWriter, r *http.Request) {
	userID, err := platform.PathUUID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	var req NewBadge
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}

	badge, err := h.service.AwardBadge(r.Context(), userID, req, platform.ActorID(r))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusCreated, badge)
}

func (h *Handler) handleCreateAchievement(w http.ResponseWriter, r *http.Request) {
	userID, err := platform.PathUUID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	var req NewAchievement
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}

	achievement, err := h.service.CreateAchievement(r.Context(), userID, req)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusCreated, achievement)
}

func (h *Handler) handleProgressAchievement(w http.ResponseWriter, r *http.Request) {
	userID, err := platform.PathUUID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	var req struct {
		Progress *int `json:"progress" validate:"required"`
	}
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}

	update, err := h.service.ProgressAchievement(r.Context(), userID, chi.URLParam(r, "title"), *req.Progress, platform.ActorID(r))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, update)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := platform.PathUUID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	page, err := h.service.History(r.Context(), userID, platform.QueryInt(r, "page", 1), platform.QueryInt(r, "limit", 20))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.Leaderboard(r.Context(), r.URL.Query().Get("category"),
		platform.QueryInt(r, "page", 1), platform.QueryInt(r, "limit", 10))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleExpire(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.SweepExpired(r.Context(), time.Now().UTC())
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, map[string]any{
		"updated": updated,
		"message": fmt.Sprintf("Updated expired points for %d users", updated),
	})
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context(), r.URL.Query().Get("all") == "true")
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("itemID", chi.URLParam(r, "itemID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req NewItem
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), req, platform.ActorID(r))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("itemID", chi.URLParam(r, "itemID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	var req ItemUpdate
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), id, req)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("itemID", chi.URLParam(r, "itemID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	if err := h.service.DeleteItem(r.Context(), id); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("itemID", chi.URLParam(r, "itemID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	result, err := h.service.Redeem(r.Context(), platform.ActorID(r), id)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	userID, err := platform.PathUUID("userID", chi.URLParam(r, "userID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	redemptions, err := h.service.ListRedemptions(r.Context(), userID)
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, redemptions)
}

func (h *Handler) handleRedemptionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := platform.PathUUID("redemptionID", chi.URLParam(r, "redemptionID"))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	var req StatusUpdate
	if err := platform.DecodeJSON(r, &req); err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	redemption, err := h.service.UpdateRedemptionStatus(r.Context(), id, req, platform.ActorID(r))
	if err != nil {
		platform.WriteError(w, h.log, err)
		return
	}
	platform.WriteJSON(w, http.StatusOK, redemption)
}
