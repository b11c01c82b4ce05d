package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/alert-comb/app/feed"
	"github.com/lysyi3m/alert-comb/app/tasks"
)

const maxAlertsLimit = 500

// NewHandler wires the status endpoints. store may be nil when dedup records
// are kept in memory only.
func NewHandler(scheduler tasks.TaskSchedulerInterface, dedup DedupStatsProvider,
	dispatcher DispatchStatsProvider, scorer ScoringStatsProvider, store StoreHealthChecker,
	history *feed.History, baseURL, version string) *Handler {
	return &Handler{
		scheduler:  scheduler,
		dedup:      dedup,
		dispatcher: dispatcher,
		scorer:     scorer,
		store:      store,
		history:    history,
		generator:  feed.NewGenerator(),
		baseURL:    strings.TrimRight(baseURL, "/"),
		version:    version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := h.scheduler.Health()
	health["timestamp"] = time.Now().In(time.Local).Format(time.RFC3339)

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		storeHealth := h.store.Health(ctx)
		health["store"] = storeHealth
		if storeHealth["status"] == "unhealthy" && health["status"] == "healthy" {
			health["status"] = "degraded"
		}
	}

	status := http.StatusOK
	if health["status"] == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":   h.version,
		"scheduler": h.scheduler.GetStats(),
		"dedup":     h.dedup.Stats(),
		"dispatch":  h.dispatcher.Stats(),
		"scoring": gin.H{
			"minimum_score": h.scorer.MinScore(),
		},
	})
}

func (h *Handler) APIListSources(c *gin.Context) {
	snapshots := h.scheduler.Snapshots()

	c.JSON(http.StatusOK, gin.H{
		"sources": snapshots,
		"total":   len(snapshots),
	})
}

func (h *Handler) APIGetSource(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing source name parameter"})
		return
	}

	for _, snapshot := range h.scheduler.Snapshots() {
		if snapshot.Name == name {
			c.JSON(http.StatusOK, snapshot)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
}

// GetAlertsFeed serves recently delivered alerts as RSS.
func (h *Handler) GetAlertsFeed(c *gin.Context) {
	entries := h.history.Recent(0)

	channel := feed.Channel{
		Title:   "Alert Comb",
		Link:    h.baseURL,
		Version: h.version,
	}
	if h.baseURL != "" {
		channel.SelfLink = h.baseURL + "/feeds/alerts"
	}

	rss, err := h.generator.Run(channel, entries)
	if err != nil {
		slog.Error("RSS generation error", "feed", "alerts", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(entries)))
	c.String(http.StatusOK, rss)
}

func (h *Handler) APIListAlerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxAlertsLimit)
	}

	entries := h.history.Recent(limit)

	alerts := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		alerts = append(alerts, map[string]interface{}{
			"title":         entry.Item.Title,
			"url":           entry.Item.URL,
			"source":        entry.Item.SourceName,
			"category":      entry.Item.Category,
			"score":         entry.Item.Score,
			"keywords":      entry.Item.Keywords(),
			"priority":      entry.Priority,
			"target":        entry.Target,
			"transport":     entry.Transport,
			"dispatched_at": entry.DispatchedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}
