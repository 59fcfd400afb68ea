package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// getForgeHandler handles GET /forge/:id, returning the full deliberation
// record for a Forge session: every round so far, the running decision
// log, and any recorded dissent.
func (s *Server) getForgeHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, terrors.New(terrors.KindValidation, "invalid forge id: "+err.Error()))
		return
	}

	eng, ok := s.lookupForge(id)
	if !ok {
		writeError(c, terrors.New(terrors.KindNotFound, "forge session not found: "+id.String()))
		return
	}

	c.JSON(http.StatusOK, ForgeResponse{
		SessionID:   id,
		CanContinue: eng.CanContinue(),
		Rounds:      eng.AllRounds(),
		Decisions:   eng.DecisionLog(),
		Dissents:    eng.DissentLog(),
	})
}
