package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"statuswatch/internal/publisher"
	"statuswatch/internal/scheduler"
	"statuswatch/internal/storage"
)

// StatusSource 提供最近一个周期的监测项状态
type StatusSource interface {
	Snapshot() scheduler.Snapshot
}

// PublisherSource 提供发布器统计与未解决事故台账
type PublisherSource interface {
	Stats() publisher.Stats
	Ledger() *publisher.Ledger
}

// EventSource 发布日志查询接口（storage.Storage 的子集）
type EventSource interface {
	GetEvents(sinceID int64, limit int, filters *storage.EventFilters) ([]*storage.EventRecord, error)
	GetLatestEventID() (int64, error)
}

// Handler API处理器
type Handler struct {
	status    StatusSource
	publisher PublisherSource
	events    EventSource
}

// NewHandler 创建处理器
func NewHandler(status StatusSource, pub PublisherSource, events EventSource) *Handler {
	return &Handler{
		status:    status,
		publisher: pub,
		events:    events,
	}
}

// StatusResponse /api/status 响应
type StatusResponse struct {
	scheduler.Snapshot
	Publisher publisher.Stats `json:"publisher"`
}

// GetStatus 返回最近一个周期的监测项状态与发布器统计
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, StatusResponse{
		Snapshot:  h.status.Snapshot(),
		Publisher: h.publisher.Stats(),
	})
}

// IncidentItem 未解决事故（不返回记录正文）
type IncidentItem struct {
	Service  string    `json:"service"`
	Path     string    `json:"path"`
	Version  string    `json:"version"`
	OpenedAt time.Time `json:"opened_at"`
	Duration string    `json:"duration"`
}

// IncidentsResponse /api/incidents 响应
type IncidentsResponse struct {
	Incidents []IncidentItem `json:"incidents"`
	Count     int            `json:"count"`
}

// GetIncidents 返回台账中的未解决事故
// GET /api/incidents
func (h *Handler) GetIncidents(c *gin.Context) {
	entries := h.publisher.Ledger().Snapshot()
	now := time.Now()

	items := make([]IncidentItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, IncidentItem{
			Service:  e.Service,
			Path:     e.Path,
			Version:  e.Version,
			OpenedAt: e.OpenedAt,
			Duration: now.Sub(e.OpenedAt).Truncate(time.Second).String(),
		})
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, IncidentsResponse{
		Incidents: items,
		Count:     len(items),
	})
}
