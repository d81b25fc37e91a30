package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/kyc-check/internal/usecase"
)

// VerificationService is the slice of the use case consumed by the HTTP layer.
type VerificationService interface {
	CreateSubmission(ctx context.Context) (*usecase.NewSubmission, error)
	Verify(ctx context.Context, kycID string) (*usecase.VerificationOutcome, error)
	GetResult(ctx context.Context, kycID string) (*usecase.VerificationOutcome, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type verifyRequest struct {
	KYCID string `json:"kyc_id" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc VerificationService) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/submissions", func(c *gin.Context) {
		created, err := svc.CreateSubmission(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"kyc_id": created.KYCID,
			"urls":   created.Targets,
		})
	})

	router.POST("/verify", func(c *gin.Context) {
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kyc_id is required"})
			return
		}

		outcome, err := svc.Verify(c.Request.Context(), req.KYCID)
		if err != nil {
			if errors.Is(err, usecase.ErrSubmissionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "KYC not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"kyc_id":         outcome.KYCID,
			"face_match":     outcome.FaceMatch,
			"similarity":     outcome.Similarity,
			"status":         outcome.Status,
			"extracted_data": outcome.Extracted,
		})
	})

	router.GET("/result/:id", func(c *gin.Context) {
		kycID := c.Param("id")

		outcome, err := svc.GetResult(c.Request.Context(), kycID)
		if err != nil {
			if errors.Is(err, usecase.ErrSubmissionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "KYC not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"kyc_id":         outcome.KYCID,
			"face_match":     outcome.FaceMatch,
			"similarity":     outcome.Similarity,
			"status":         outcome.Status,
			"extracted_data": outcome.Extracted,
			"created_at":     outcome.CreatedAt,
		})
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}
