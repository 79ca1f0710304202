package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/CrateManager/internal/manager"
	"github.com/KevinKickass/CrateManager/internal/types"
)

func slotParam(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeSlotBadRequest, "Invalid slot", c.Param("slot")))
		return 0, false
	}
	return slot, true
}

// GET /api/v1/slots
func (s *Server) listSlots(c *gin.Context) {
	st := s.lm.Crate().Status()
	c.JSON(http.StatusOK, gin.H{
		"enable_mask": st.EnableMask,
		"slots":       st.Slots,
	})
}

// GET /api/v1/slots/:slot
func (s *Server) getSlot(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}

	for _, ss := range s.lm.Crate().Status().Slots {
		if ss.Slot == slot {
			c.JSON(http.StatusOK, ss)
			return
		}
	}
	c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeSlotNotFound, "Slot not found", slot))
}

// GET /api/v1/slots/:slot/infospace
func (s *Server) getSlotInfospace(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}

	fields, err := s.lm.Crate().Fields(slot)
	switch {
	case errors.Is(err, manager.ErrInvalidSlot):
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeSlotNotFound, "Slot not present", err.Error()))
		return
	case errors.Is(err, manager.ErrConfigurationMissing):
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeSlotNotFound, "Slot not initialized", err.Error()))
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeSlotInternal, "Failed to read namespace", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"slot":   slot,
		"fields": fields,
	})
}

// GET /api/v1/slots/:slot/fifo
func (s *Server) dumpSlotFIFO(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}

	words := s.lm.Crate().DumpFIFO(c.Request.Context(), slot)
	hex := make([]string, len(words))
	for i, w := range words {
		hex[i] = fmt.Sprintf("0x%08x", w)
	}

	c.JSON(http.StatusOK, gin.H{
		"slot":  slot,
		"words": words,
		"hex":   hex,
	})
}
