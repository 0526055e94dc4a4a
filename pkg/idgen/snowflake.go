package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 用于待落库变更的ID和批次号：单调递增，日志里可以直接按ID判断先后
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
	clock     func() int64 // 毫秒时间戳
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// New 创建生成器，workerID 超出范围返回错误
func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("idgen: workerID 必须在 0-%d 之间, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID, clock: func() int64 { return time.Now().UnixMilli() }}, nil
}

// Init 初始化默认ID生成器，只有第一次调用生效
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = New(workerID)
	})
	return err
}

// NextID 生成下一个ID
func NextID() int64 {
	// 未初始化时使用 workerID=1
	_ = Init(1)
	return defaultGenerator.Generate()
}

// Generate 生成ID
//
// 调用方可能持有条目锁，这里不做任何等待：时钟回拨或序列号用完时
// 逻辑时间戳向前借一毫秒，墙上时钟追上后恢复
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	if now <= s.timestamp {
		now = s.timestamp
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			now++
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// BatchNo 生成批次号，格式：BATCH + 年月日时分秒 + 雪花ID后8位
func BatchNo() string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("BATCH%s%08d", timestamp, id%100000000)
}
