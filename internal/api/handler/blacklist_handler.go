package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/email-verifier/internal/api/dto"
	"github.com/cuongbtq/email-verifier/internal/blacklist"
)

// ListBlacklist handles GET /api/v1/blacklist/:provider
// Lists the outbound IPs currently refused by a provider
func (h *BlacklistHandler) ListBlacklist(c *gin.Context) {
	var uri dto.BlacklistProviderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "provider must be a domain name",
		})
		return
	}

	provider := strings.ToLower(uri.Provider)
	items, err := h.blacklist.List(c.Request.Context(), provider)
	if err != nil {
		h.logger.Error("Failed to list blacklist", slog.String("provider", provider), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list blacklist",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewListBlacklistResponse(provider, items))
}

// RemoveBlacklistEntry handles DELETE /api/v1/blacklist/:provider/:ip
// Lets jobs for the pair be verified again before the entry expires
func (h *BlacklistHandler) RemoveBlacklistEntry(c *gin.Context) {
	var uri dto.BlacklistEntryURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "provider must be a domain name and ip an IP address",
		})
		return
	}

	item := blacklist.Item{IP: uri.IP, Provider: uri.Provider}
	if err := h.blacklist.Remove(c.Request.Context(), item); err != nil {
		h.logger.Error("Failed to remove blacklist entry", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to remove blacklist entry",
		})
		return
	}

	h.logger.Info("Blacklist entry removed",
		slog.String("provider", uri.Provider),
		slog.String("ip", uri.IP),
	)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
