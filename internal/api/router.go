package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiliankoe/casefile/internal/game"
	"github.com/kiliankoe/casefile/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

// UserHeader carries the caller's stable user id for admin routes.
const UserHeader = "X-User-ID"

type Handler struct {
	RM       *game.RoomManager
	Profiles store.ProfileStore
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.health)
	r.GET("/api/rooms", h.listRooms)
	r.GET("/api/rooms/:id/qr", h.roomQR)
	r.GET("/api/profile/:uid", h.getProfile)
	r.PUT("/api/profile/:uid", h.putProfile)

	admin := r.Group("/api/admin", h.requireAdmin)
	admin.GET("/rooms", h.listRooms)
	admin.DELETE("/rooms/:id", h.closeRoom)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "rooms": h.RM.Count()})
}

func (h *Handler) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.RM.ListRooms()})
}

// roomQR renders a PNG QR code linking to the join screen of a room.
func (h *Handler) roomQR(c *gin.Context) {
	code := c.Param("id")
	if _, err := h.RM.Get(code); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": game.Code(err)})
		return
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	url := scheme + "://" + c.Request.Host + "/?room=" + code

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("qr generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) requireAdmin(c *gin.Context) {
	uid := strings.TrimSpace(c.GetHeader(UserHeader))
	if uid == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": game.Code(game.ErrUnauthorized)})
		return
	}
	ok, err := h.Profiles.IsAdmin(c.Request.Context(), uid)
	if err != nil {
		log.Error().Err(err).Str("user", uid).Msg("admin check failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	if !ok {
		log.Warn().Str("user", uid).Str("path", c.FullPath()).Msg("admin access denied")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": game.Code(game.ErrUnauthorized)})
		return
	}
	c.Next()
}

func (h *Handler) closeRoom(c *gin.Context) {
	if err := h.RM.CloseRoom(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": game.Code(err)})
		return
	}
	log.Info().Str("room", c.Param("id")).Str("by", c.GetHeader(UserHeader)).Msg("room closed by admin")
	c.Status(http.StatusNoContent)
}

func (h *Handler) getProfile(c *gin.Context) {
	p, err := h.Profiles.GetProfile(c.Request.Context(), c.Param("uid"))
	if errors.Is(err, store.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user", c.Param("uid")).Msg("get profile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, p)
}

type profileReq struct {
	DisplayName    string    `json:"displayName" binding:"required,max=32"`
	DifficultyTier game.Tier `json:"difficultyTier" binding:"required,oneof=A B C"`
}

func (h *Handler) putProfile(c *gin.Context) {
	var req profileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_profile"})
		return
	}
	p := store.Profile{UserID: c.Param("uid"), DisplayName: strings.TrimSpace(req.DisplayName), DifficultyTier: req.DifficultyTier}
	if err := h.Profiles.SetProfile(c.Request.Context(), p); err != nil {
		log.Error().Err(err).Str("user", p.UserID).Msg("set profile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, p)
}
