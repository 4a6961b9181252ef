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
// 积分系统里的业务单号（购买流水号、账本条目号、事件 key）都由这里生成：
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// 单号 = 前缀 + 年月日时分秒 + 雪花ID后10位，趋势递增，便于按时间排查。
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

// 业务单号前缀
const (
	PrefixTransaction = "TXN" // 购买流水
	PrefixLedgerEntry = "LED" // 账本条目
	PrefixEvent       = "EVT" // 积分事件
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake 创建生成器，workerID 取值 0-1023
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("idgen: workerID 必须在 0-%d 之间, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 初始化默认生成器，只有第一次调用生效
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID 生成下一个ID
func NextID() int64 {
	// 未显式 Init 时使用 workerID 1
	_ = Init(1)
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// 时钟回拨时沿用上一次的时间戳，靠序列号保证唯一
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateNo 生成带前缀的业务单号
// 例如：TXN20240115143052_0012345678
func GenerateNo(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%010d", prefix, time.Now().Format("20060102150405"), id%10000000000)
}

// GenerateTransactionNo 生成购买流水号
func GenerateTransactionNo() string {
	return GenerateNo(PrefixTransaction)
}

// GenerateEntryNo 生成账本条目号
func GenerateEntryNo() string {
	return GenerateNo(PrefixLedgerEntry)
}

// GenerateEventKey 生成积分事件 key
func GenerateEventKey() string {
	return GenerateNo(PrefixEvent)
}
