package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"drops-miner-backend/internal/features/campaign/models"
	"drops-miner-backend/internal/features/miner/service"
	"drops-miner-backend/internal/repository"
)

// Miner is the slice of the scheduler the HTTP layer needs.
type Miner interface {
	Status() service.ProgressSnapshot
	Campaigns() []models.Campaign
	Evaluate(reason string)
}

type MinerHandler struct {
	miner  Miner
	claims repository.ClaimLog
	log    zerolog.Logger
}

func NewMinerHandler(miner Miner, claims repository.ClaimLog, log zerolog.Logger) *MinerHandler {
	return &MinerHandler{miner: miner, claims: claims, log: log}
}

func (h *MinerHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.getStatus)
	router.GET("/campaigns", h.getCampaigns)
	router.GET("/claims", h.getClaims)
	router.POST("/evaluate", h.postEvaluate)
}

func (h *MinerHandler) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.miner.Status())
}

func (h *MinerHandler) getCampaigns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"campaigns": h.miner.Campaigns()})
}

func (h *MinerHandler) getClaims(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.claims.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("claim history read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load claim history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": records})
}

func (h *MinerHandler) postEvaluate(c *gin.Context) {
	h.miner.Evaluate("manual trigger")
	c.JSON(http.StatusAccepted, gin.H{"status": "evaluation requested"})
}
