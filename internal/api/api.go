// Package api exposes the store and the per-persona favorites over HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/celerix-dev/celerix-favorites/pkg/sdk"
	"github.com/gin-gonic/gin"
)

// Handler serves the raw key/value store.
type Handler struct {
	Store sdk.CelerixStore
}

// errorStatus maps store errors to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, sdk.ErrPersonaNotFound), errors.Is(err, sdk.ErrAppNotFound), errors.Is(err, sdk.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRegistryClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func (h *Handler) GetPersonas(c *gin.Context) {
	personas, err := h.Store.GetPersonas()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, personas)
}

func (h *Handler) GetApps(c *gin.Context) {
	apps, err := h.Store.GetApps(c.Param("persona"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, apps)
}

func (h *Handler) GetAppStore(c *gin.Context) {
	data, err := h.Store.GetAppStore(c.Param("persona"), c.Param("app"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (h *Handler) Get(c *gin.Context) {
	val, err := h.Store.Get(c.Param("persona"), c.Param("app"), c.Param("key"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, val)
}

func (h *Handler) GetGlobal(c *gin.Context) {
	val, persona, err := h.Store.GetGlobal(c.Param("app"), c.Param("key"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"persona": persona,
		"value":   val,
	})
}

func (h *Handler) Set(c *gin.Context) {
	var val any
	if err := c.ShouldBindJSON(&val); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Store.Set(c.Param("persona"), c.Param("app"), c.Param("key"), val); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.Store.Delete(c.Param("persona"), c.Param("app"), c.Param("key")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) Move(c *gin.Context) {
	var input struct {
		SrcPersona string `json:"src_persona" binding:"required"`
		DstPersona string `json:"dst_persona" binding:"required"`
		AppID      string `json:"app_id" binding:"required"`
		Key        string `json:"key" binding:"required"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Store.Move(input.SrcPersona, input.DstPersona, input.AppID, input.Key); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
