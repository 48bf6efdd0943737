package matching

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gudam/marketplace/verification-backend/internal/agents"
	"gudam/marketplace/verification-backend/pkg/geodist"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterMatchRoutes mounts the ad-hoc match query endpoint
func (h *Handler) RegisterMatchRoutes(r *gin.RouterGroup) {
	r.POST("", h.MatchAgents)
}

// RegisterAgentRoutes mounts the agent discovery endpoints
func (h *Handler) RegisterAgentRoutes(r *gin.RouterGroup) {
	r.GET("/nearby", h.NearbyAgents)
	r.GET("/top-ranked", h.TopRankedAgents)
	r.GET("/:agentID/capacity", h.AgentCapacity)
}

func (h *Handler) MatchAgents(c *gin.Context) {
	var query MatchQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.MatchAgents(c.Request.Context(), query)
	if errors.Is(err, ErrNoEligibleAgents) {
		c.JSON(http.StatusOK, gin.H{
			"candidates": []ScoredAgent{},
			"detail":     err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) NearbyAgents(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat is required"})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lon is required"})
		return
	}
	radiusKm, _ := strconv.ParseFloat(c.DefaultQuery("max_distance_km", "0"), 64)
	minCapacity, _ := strconv.ParseFloat(c.DefaultQuery("min_capacity_tons", "0"), 64)

	nearby, err := h.service.NearbyAgents(c.Request.Context(),
		geodist.Point{Lat: lat, Lon: lon}, radiusKm, minCapacity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": nearby, "count": len(nearby)})
}

func (h *Handler) TopRankedAgents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	ranked, err := h.service.TopRankedAgents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": ranked, "count": len(ranked)})
}

func (h *Handler) AgentCapacity(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("agentID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return
	}

	view, err := h.service.AgentCapacity(c.Request.Context(), agentID)
	if errors.Is(err, agents.ErrAgentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}
