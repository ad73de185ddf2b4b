package http

import (
	"errors"
	"net/http"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/core/services"
	apperrors "peercall/pkg/errors"
	"peercall/pkg/utils"
	"peercall/pkg/validation"

	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	store  ports.CallStore
	tokens services.TokenService
}

func NewCallHandler(store ports.CallStore, tokens services.TokenService) *CallHandler {
	return &CallHandler{
		store:  store,
		tokens: tokens,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine, authorized gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.POST("/calls", h.CreateCall)

		protected := api.Group("")
		if authorized != nil {
			protected.Use(authorized)
		}
		protected.GET("/calls/:id", h.GetCall)
		protected.DELETE("/calls/:id", h.DeleteCall)
		protected.GET("/calls/:id/candidates/:side", h.ListCandidates)
	}
}

// CreateCall allocates a call document and issues the token that admits
// participants to it.
func (h *CallHandler) CreateCall(c *gin.Context) {
	callID := domain.CallID(utils.GenerateCallID())
	record := &domain.CallRecord{
		ID:        callID,
		Status:    domain.StatusCreated,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), record); err != nil {
		respondError(c, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to create call", http.StatusInternalServerError))
		return
	}

	token, err := h.tokens.GenerateCallToken(callID)
	if err != nil {
		respondError(c, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to issue call token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"call_id": callID,
		"token":   token,
	})
}

func (h *CallHandler) GetCall(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))

	record, err := h.store.Get(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, domain.ErrCallNotFound) {
			respondError(c, apperrors.NewNotFoundError("call"))
			return
		}
		respondError(c, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to load call", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"call": record,
	})
}

func (h *CallHandler) DeleteCall(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))

	record, err := h.store.Get(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, domain.ErrCallNotFound) {
			respondError(c, apperrors.NewNotFoundError("call"))
			return
		}
		respondError(c, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to load call", http.StatusInternalServerError))
		return
	}
	if record.ParticipantCount() > 0 {
		respondError(c, apperrors.NewConflictError("call still has participants"))
		return
	}

	if err := h.store.Delete(c.Request.Context(), callID); err != nil {
		respondError(c, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to delete call", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "deleted",
	})
}

func (h *CallHandler) ListCandidates(c *gin.Context) {
	callID := domain.CallID(c.Param("id"))

	if err := validation.ValidateCandidateSide(c.Param("side")); err != nil {
		respondError(c, apperrors.NewInvalidInputError(err.Error()))
		return
	}
	side := domain.CandidateSide(c.Param("side"))

	candidates, err := h.store.Candidates(c.Request.Context(), callID, side)
	if err != nil {
		if errors.Is(err, domain.ErrCallNotFound) {
			respondError(c, apperrors.NewNotFoundError("call"))
			return
		}
		respondError(c, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to load candidates", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"side":       side,
		"candidates": candidates,
	})
}

func respondError(c *gin.Context, err *apperrors.AppError) {
	c.JSON(err.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    err.Code,
			"message": err.Message,
		},
	})
}
