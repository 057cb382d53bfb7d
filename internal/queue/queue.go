// Package queue 提供无界、保序、并发安全的阻塞队列
// 调度协程与发布协程之间唯一共享的数据结构
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 队列已关闭且为空
var ErrClosed = errors.New("queue: closed")

// Queue 无界 FIFO 队列
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	wakeCh chan struct{} // 唤醒信号（容量 1）
}

// New 创建队列
func New[T any]() *Queue[T] {
	return &Queue[T]{
		wakeCh: make(chan struct{}, 1),
	}
}

// Enqueue 追加到队尾并唤醒一个等待者
// 队列关闭后追加的元素会被丢弃，返回 false
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.notifyWakeLocked()
	return true
}

// Dequeue 弹出队首元素，队列为空时阻塞直到有元素、ctx 取消或队列关闭
// 关闭后仍会先取完剩余元素，再返回 ErrClosed
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero // 避免内存泄漏
			q.items = q.items[1:]
			if len(q.items) > 0 {
				// 还有剩余元素，继续唤醒其他等待者
				q.notifyWakeLocked()
			}
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			// 传递唤醒信号，让其他等待者也能退出
			q.notifyWakeLocked()
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.wakeCh:
		}
	}
}

// Len 返回当前队列长度
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot 返回当前队列内容的副本（按出队顺序）
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Close 关闭队列，唤醒所有等待者（幂等）
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notifyWakeLocked()
}

// notifyWakeLocked 唤醒等待者（需持有 q.mu）
func (q *Queue[T]) notifyWakeLocked() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
		// 已有唤醒信号，无需重复发送
	}
}
