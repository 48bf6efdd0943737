package verification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gudam/marketplace/verification-backend/internal/agents"
	"gudam/marketplace/verification-backend/internal/matching"
	"gudam/marketplace/verification-backend/internal/products"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the verification lifecycle endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/listings/:productID/verify", h.Start)
	r.PUT("/:id/status", h.UpdateStatus)
	r.GET("", h.List)
	r.GET("/agent/:agentID", h.ListByAgent)
	r.GET("/:id", h.Get)
}

// RegisterMatchNotifyRoute mounts the match-and-dispatch endpoint. It lives
// here rather than in the matching package because dispatch creates the
// verification request that anchors deduplication.
func (h *Handler) RegisterMatchNotifyRoute(r *gin.RouterGroup) {
	r.POST("/notify", h.MatchAndNotify)
}

func (h *Handler) Start(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("productID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.service.Start(c.Request.Context(), productID, req)
	if err != nil && result == nil {
		h.writeError(c, err)
		return
	}
	if errors.Is(err, matching.ErrNoEligibleAgents) || errors.Is(err, agents.ErrCapacityExceeded) {
		// Request created but unassigned; the sweep retries it.
		c.JSON(http.StatusAccepted, gin.H{
			"verification": result.Request,
			"match":        result.Match,
			"detail":       err.Error(),
		})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type matchNotifyRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	TopN      int       `json:"top_n"`
}

func (h *Handler) MatchAndNotify(c *gin.Context) {
	var req matchNotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.MatchAndNotify(c.Request.Context(), req.ProductID, req.TopN)
	if err != nil && result == nil {
		h.writeError(c, err)
		return
	}
	if errors.Is(err, matching.ErrNoEligibleAgents) || errors.Is(err, agents.ErrCapacityExceeded) {
		c.JSON(http.StatusAccepted, gin.H{
			"verification": result.Request,
			"match":        result.Match,
			"detail":       err.Error(),
		})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification id"})
		return
	}

	var update UpdateRequest
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if update.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	request, err := h.service.UpdateStatus(c.Request.Context(), requestID, update)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": request})
}

func (h *Handler) List(c *gin.Context) {
	filter := ListFilter{
		Status:   c.Query("status"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	h.list(c, filter)
}

func (h *Handler) ListByAgent(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("agentID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return
	}
	filter := ListFilter{
		Status:   c.Query("status"),
		AgentID:  &agentID,
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	h.list(c, filter)
}

func (h *Handler) list(c *gin.Context, filter ListFilter) {
	items, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":     items,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (h *Handler) Get(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification id"})
		return
	}

	request, listing, history, err := h.service.Get(c.Request.Context(), requestID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verification": request,
		"product":      listing,
		"history":      history,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound),
		errors.Is(err, products.ErrProductNotFound),
		errors.Is(err, agents.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrDuplicateActiveRequest),
		errors.Is(err, ErrProductAlreadyVerified):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrProductLocationMissing),
		errors.Is(err, matching.ErrNoEligibleAgents):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	value, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(fallback)))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
