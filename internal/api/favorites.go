package api

import (
	"net/http"
	"strings"

	"github.com/celerix-dev/celerix-favorites/internal/events"
	"github.com/celerix-dev/celerix-favorites/pkg/favset"
	"github.com/celerix-dev/celerix-favorites/pkg/schema"
	"github.com/gin-gonic/gin"
)

// FavoritesHandler serves per-persona favorites.
type FavoritesHandler struct {
	Registry *Registry
	// Events, when set, backs GET /api/events/recent.
	Events *events.Bus
}

// outcomeStatus maps a mutation outcome to an HTTP status.
func outcomeStatus(out favset.Outcome) int {
	switch out.Reason {
	case favset.ReasonNone:
		if out.OK {
			return http.StatusOK
		}
		// A destroyed manager answers with a zero outcome.
		return http.StatusServiceUnavailable
	case favset.ReasonInvalidID:
		return http.StatusBadRequest
	case favset.ReasonNotFound:
		return http.StatusNotFound
	case favset.ReasonAlreadyEmpty:
		return http.StatusOK
	}
	return http.StatusConflict
}

func (h *FavoritesHandler) List(c *gin.Context) {
	m, err := h.Registry.Manager(c.Request.Context(), c.Param("persona"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"persona": c.Param("persona"),
		"items":   m.All(),
		"count":   m.Count(),
		"max":     m.Max(),
	})
}

func (h *FavoritesHandler) Add(c *gin.Context) {
	m, err := h.Registry.Manager(c.Request.Context(), c.Param("persona"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := m.Add(c.Param("id"))
	c.JSON(outcomeStatus(out), out)
}

func (h *FavoritesHandler) Remove(c *gin.Context) {
	m, err := h.Registry.Manager(c.Request.Context(), c.Param("persona"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := m.Remove(c.Param("id"))
	c.JSON(outcomeStatus(out), out)
}

func (h *FavoritesHandler) Toggle(c *gin.Context) {
	m, err := h.Registry.Manager(c.Request.Context(), c.Param("persona"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := m.Toggle(c.Param("id"))
	c.JSON(outcomeStatus(out), out)
}

func (h *FavoritesHandler) Clear(c *gin.Context) {
	m, err := h.Registry.Manager(c.Request.Context(), c.Param("persona"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := m.Clear()
	c.JSON(outcomeStatus(out), out)
}

func (h *FavoritesHandler) Import(c *gin.Context) {
	var input struct {
		Items   []any `json:"items" binding:"required"`
		Replace bool  `json:"replace"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.Registry.Manager(c.Request.Context(), c.Param("persona"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	res := m.Import(input.Items, input.Replace)
	status := http.StatusOK
	if !res.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, res)
}

// RecentEvents lists the envelopes buffered on the event bus, oldest first.
// The optional type query parameter filters by type prefix.
func (h *FavoritesHandler) RecentEvents(c *gin.Context) {
	recent := h.Events.Recent()
	prefix := c.Query("type")
	items := make([]schema.Envelope, 0, len(recent))
	for _, env := range recent {
		if strings.HasPrefix(env.Type, prefix) {
			items = append(items, env)
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}
