package store

import (
	"statuswatch/internal/incident"
	"statuswatch/internal/logger"
)

// findOpen 在记录列表中查找影响 service 且未解决的记录
// 存在多条时取创建时间最新的一条；无法解析的记录跳过
func findOpen(docs []Document, service string) *Document {
	var (
		best     *Document
		bestDate incident.Timestamp
	)
	for i := range docs {
		rec, err := incident.Parse(docs[i].Content)
		if err != nil {
			logger.Debug("store", "跳过无法解析的记录", "path", docs[i].Path, "error", err)
			continue
		}
		if !rec.IsOpen() || !rec.Affects(service) {
			continue
		}
		if best == nil || rec.Meta.Date.After(bestDate.Time) {
			d := docs[i]
			best = &d
			bestDate = rec.Meta.Date
		}
	}
	return best
}
