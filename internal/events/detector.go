package events

import (
	"time"

	"github.com/google/uuid"

	"statuswatch/internal/logger"
)

// Detector 边沿触发检测器
// 比较普通项上一周期与本周期的相对成功，仅在状态变化时产生事件
type Detector struct {
	newID func() string
}

// NewDetector 创建检测器
func NewDetector() *Detector {
	return &Detector{
		newID: func() string { return uuid.NewString() },
	}
}

// Detect 检测状态变更
//
// 状态机逻辑：
//   - RelativeSuccess=true 且 LastSuccess=false：产生 ONLINE 事件
//   - RelativeSuccess=false 且 LastSuccess=true：产生 OFFLINE 事件
//   - 其他情况不产生事件
//
// 无论是否产生事件，都会把 LastSuccess 更新为 RelativeSuccess。
// 参照项不产生事件。
func (d *Detector) Detect(states []*TaskState, now time.Time) []PublishEvent {
	var out []PublishEvent
	ts := now.UTC()

	for _, s := range states {
		if s.IsReference() {
			s.LastSuccess = s.RelativeSuccess
			continue
		}

		switch {
		case s.RelativeSuccess && !s.LastSuccess:
			logger.Warn("detector", "服务恢复", "service", s.Name)
			out = append(out, d.event(EventTypeOnline, s.Name, ts))
		case !s.RelativeSuccess && s.LastSuccess:
			logger.Warn("detector", "服务中断", "service", s.Name)
			out = append(out, d.event(EventTypeOffline, s.Name, ts))
		default:
			logger.Info("detector", "状态无变化", "service", s.Name, "success", s.RelativeSuccess)
		}

		s.LastSuccess = s.RelativeSuccess
	}

	return out
}

func (d *Detector) event(kind EventType, service string, ts time.Time) PublishEvent {
	return PublishEvent{
		ID:        d.newID(),
		Kind:      kind,
		Service:   service,
		Timestamp: ts,
	}
}
