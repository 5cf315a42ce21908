package main

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cadence/backend/internal/kvstore"
	"cadence/backend/internal/music/dedupe"
	"cadence/backend/internal/music/history"
	"cadence/backend/internal/ratelimit"
)

// registerGuildRoutes exposes per-guild playback history for operators.
func registerGuildRoutes(api *gin.RouterGroup, hist *history.Store, store kvstore.Store, log *zap.Logger) {
	// Guilds with retained history
	api.GET("/guilds", func(c *gin.Context) {
		keys, err := store.KeysByPattern(c.Request.Context(), "history:*")
		if err != nil {
			log.Error("failed to list history keys", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list guilds"})
			return
		}
		var guilds []string
		for _, k := range keys {
			id := strings.TrimPrefix(k, "history:")
			// Skip the ID side sets, which share the prefix
			if strings.HasPrefix(id, "ids:") {
				continue
			}
			guilds = append(guilds, id)
		}
		sort.Strings(guilds)
		c.JSON(http.StatusOK, gin.H{"guilds": guilds, "count": len(guilds)})
	})
	// Recent history, newest first
	api.GET("/guilds/:id/history", func(c *gin.Context) {
		guildID := c.Param("id")
		limit := 25
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > 100 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
				return
			}
			limit = parsed
		}

		entries := hist.GetRecent(c.Request.Context(), guildID, limit)
		c.JSON(http.StatusOK, gin.H{
			"guild_id": guildID,
			"count":    len(entries),
			"entries":  entries,
		})
	})

	// Most recent track, the autoplay seed
	api.GET("/guilds/:id/last", func(c *gin.Context) {
		guildID := c.Param("id")
		entry := hist.GetLastPlayed(c.Request.Context(), guildID)
		if entry == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no history for guild"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"guild_id": guildID,
			"entry":    entry,
			"summary":  entry.Describe(),
		})
	})

	// Wipe a guild's history and cached metadata
	api.DELETE("/guilds/:id/history", func(c *gin.Context) {
		guildID := c.Param("id")
		hist.Clear(c.Request.Context(), guildID)
		log.Info("guild history cleared", zap.String("guild_id", guildID))
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	})
}

// registerDedupeRoutes exposes the similar-track diagnostic scan, for
// answering "why did autoplay skip this" without log archaeology.
func registerDedupeRoutes(api *gin.RouterGroup, detector *dedupe.Detector) {
	api.GET("/guilds/:id/similar", func(c *gin.Context) {
		title := c.Query("title")
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title query parameter is required"})
			return
		}
		matches := detector.FindSimilarTracks(c.Request.Context(), c.Param("id"), title, 10)
		c.JSON(http.StatusOK, gin.H{
			"title":   title,
			"count":   len(matches),
			"matches": matches,
		})
	})
}

// registerRateLimitRoutes exposes limiter state. The check endpoint consumes a
// slot, which makes it a simple probe for whether a guild is throttled.
func registerRateLimitRoutes(api *gin.RouterGroup, limiter *ratelimit.Limiter, log *zap.Logger) {
	api.GET("/ratelimit/rules", func(c *gin.Context) {
		rules := limiter.Rules()
		out := make([]gin.H, 0, len(rules))
		for _, r := range rules {
			out = append(out, gin.H{
				"name":         r.Name,
				"window":       r.Window.String(),
				"max_requests": r.MaxRequests,
			})
		}
		c.JSON(http.StatusOK, gin.H{"rules": out})
	})

	api.POST("/ratelimit/:rule/:id", func(c *gin.Context) {
		res, err := limiter.CheckAndRecord(c.Request.Context(), c.Param("rule"), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"allowed":     res.Allowed,
			"remaining":   res.Remaining,
			"retry_after": res.RetryAfter.String(),
		})
	})
}
