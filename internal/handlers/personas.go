package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/nebulus/gantry/internal/persona"
)

type PersonaHandler struct {
	registry *persona.Registry
}

func NewPersonaHandler(registry *persona.Registry) *PersonaHandler {
	return &PersonaHandler{registry: registry}
}

// GET /api/personas
func (h *PersonaHandler) List(c *gin.Context) {
	RespondOK(c, gin.H{"personas": h.registry.List()})
}
