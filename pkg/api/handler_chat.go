package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
	"github.com/steward-ai/steward/pkg/services"
)

func (s *Server) handleChat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeFault(c, fault.Wrap(fault.KindValidation, err, "malformed request body"))
		return
	}

	resp, err := s.chat.Chat(c.Request.Context(), &req)
	if err != nil {
		// A failed dispatch still carries its attempt trail.
		if resp != nil && len(resp.Attempts) > 0 {
			writeFault(c, err, gin.H{"attempts": resp.Attempts})
			return
		}
		writeFault(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePlan(c *gin.Context) {
	var req services.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeFault(c, fault.Wrap(fault.KindValidation, err, "malformed request body"))
		return
	}

	resp, err := s.chat.ExecutePlan(c.Request.Context(), &req)
	if err != nil {
		writeFault(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
