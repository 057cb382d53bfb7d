package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"statuswatch/internal/events"
	"statuswatch/internal/logger"
	"statuswatch/internal/storage"
)

const (
	defaultEventsLimit = 20
	maxEventsLimit     = 100
)

// EventsResponse 发布日志 API 响应
type EventsResponse struct {
	Events []EventItem `json:"events"`
	Meta   EventsMeta  `json:"meta"`
}

// EventItem 单条发布日志
type EventItem struct {
	ID         int64  `json:"id"`
	EventID    string `json:"event_id"`
	Kind       string `json:"kind"`
	Service    string `json:"service"`
	ObservedAt int64  `json:"observed_at"`
	Status     string `json:"status"`
	Path       string `json:"path,omitempty"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// EventsMeta 分页元信息
type EventsMeta struct {
	NextSinceID int64 `json:"next_since_id"`
	HasMore     bool  `json:"has_more"`
	Count       int   `json:"count"`
}

// LatestEventResponse 最新日志 ID 响应
type LatestEventResponse struct {
	LatestID int64 `json:"latest_id"`
}

// GetEvents 查询发布日志（游标分页）
// GET /api/events?since_id=0&limit=20&service=API&kind=OFFLINE,ONLINE&status=published
func (h *Handler) GetEvents(c *gin.Context) {
	var sinceID int64
	if s := c.Query("since_id"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since_id 必须为非负整数"})
			return
		}
		sinceID = v
	}

	limit := defaultEventsLimit
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit 必须为正整数"})
			return
		}
		limit = min(v, maxEventsLimit)
	}

	filters := &storage.EventFilters{
		Service: strings.TrimSpace(c.Query("service")),
	}
	if kindsStr := c.Query("kind"); kindsStr != "" {
		for _, k := range strings.Split(kindsStr, ",") {
			k = strings.ToUpper(strings.TrimSpace(k))
			switch events.EventType(k) {
			case events.EventTypeOffline, events.EventTypeOnline:
				filters.Kinds = append(filters.Kinds, k)
			}
		}
	}
	switch status := storage.EventStatus(strings.TrimSpace(c.Query("status"))); status {
	case "":
	case storage.EventStatusPublished, storage.EventStatusDeadLetter, storage.EventStatusSkipped:
		filters.Status = status
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 status: " + string(status)})
		return
	}

	// 多取一条用于判断是否还有更多
	records, err := h.events.GetEvents(sinceID, limit+1, filters)
	if err != nil {
		logger.FromContext(c.Request.Context(), "api").Error("查询发布日志失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询发布日志失败"})
		return
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	nextSinceID := sinceID
	if len(records) > 0 {
		nextSinceID = records[len(records)-1].ID
	}

	items := make([]EventItem, 0, len(records))
	for _, r := range records {
		items = append(items, EventItem{
			ID:         r.ID,
			EventID:    r.EventID,
			Kind:       r.Kind,
			Service:    r.Service,
			ObservedAt: r.ObservedAt,
			Status:     string(r.Status),
			Path:       r.Path,
			Attempts:   r.Attempts,
			Error:      r.Error,
			CreatedAt:  r.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, EventsResponse{
		Events: items,
		Meta: EventsMeta{
			NextSinceID: nextSinceID,
			HasMore:     hasMore,
			Count:       len(items),
		},
	})
}

// GetLatestEventID 获取最新日志 ID
// GET /api/events/latest
func (h *Handler) GetLatestEventID(c *gin.Context) {
	latestID, err := h.events.GetLatestEventID()
	if err != nil {
		logger.FromContext(c.Request.Context(), "api").Error("查询最新日志ID失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询最新日志ID失败"})
		return
	}
	c.JSON(http.StatusOK, LatestEventResponse{LatestID: latestID})
}
