package ledger

import (
	"sync"

	"economy/internal/model"
)

// Queue 待落库变更队列，先进先出，多生产者单消费者
//
// 不做去重也不合并同一实体的记录：每条记录都是绝对余额，
// 落库时后面的记录自然覆盖前面的
type Queue struct {
	mu       sync.Mutex
	items    []model.PendingMutation
	capacity int // 0 表示不限
	closed   bool
}

// NewQueue 创建队列，capacity <= 0 表示不限长度
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		items:    make([]model.PendingMutation, 0, 64),
		capacity: capacity,
	}
}

// Enqueue 追加到队尾；队列已关闭或已满返回 false
func (q *Queue) Enqueue(m model.PendingMutation) bool {
	return q.offer(m) == nil
}

func (q *Queue) offer(m model.PendingMutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrQueueFull
	}

	q.items = append(q.items, m)
	return nil
}

// Drain 取出并返回最早的至多 max 条记录，保持原有顺序
func (q *Queue) Drain(max int) []model.PendingMutation {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max < n {
		n = max
	}

	out := make([]model.PendingMutation, n)
	copy(out, q.items[:n])

	// 清空已取出的槽位，避免底层数组一直持有
	clear(q.items[:n])
	if n == len(q.items) {
		q.items = q.items[:0]
	} else {
		q.items = q.items[n:]
	}

	return out
}

// Requeue 把一批提交失败的记录放回队头，顺序不变
// 关闭后仍然接受：关闭只拒绝新的生产者，已经出队的记录不能丢
func (q *Queue) Requeue(batch []model.PendingMutation) {
	if len(batch) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]model.PendingMutation, 0, len(batch)+len(q.items))
	items = append(items, batch...)
	items = append(items, q.items...)
	q.items = items
}

// PeekPage 只读查看第 page 页（从0开始），用于诊断
func (q *Queue) PeekPage(page, pageSize int) []model.PendingMutation {
	if page < 0 || pageSize <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	start := page * pageSize
	if start >= len(q.items) {
		return nil
	}
	end := start + pageSize
	if end > len(q.items) {
		end = len(q.items)
	}

	out := make([]model.PendingMutation, end-start)
	copy(out, q.items[start:end])
	return out
}

func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 拒绝后续入队，已入队的记录仍可被取出
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
