package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
)

// CodeGenerator 按日重置的流水号编码生成器
type CodeGenerator interface {
	NextCode(ctx context.Context, prefix, dateFormat string, width int) (string, error)
}

func formatCode(prefix, dateKey string, seq int64, width int) string {
	if width <= 0 {
		width = 3
	}
	return fmt.Sprintf("%s-%s-%0*d", prefix, dateKey, width, seq)
}

// DBCodeGenerator 基于数据库序列表的编码生成器
type DBCodeGenerator struct {
	seq *repository.SequenceRepository
	now func() time.Time
}

// NewDBCodeGenerator 创建数据库编码生成器
func NewDBCodeGenerator(seq *repository.SequenceRepository) *DBCodeGenerator {
	return &DBCodeGenerator{seq: seq, now: time.Now}
}

// NextCode 生成下一个编码
func (g *DBCodeGenerator) NextCode(ctx context.Context, prefix, dateFormat string, width int) (string, error) {
	dateKey := g.now().Format(dateFormat)
	n, err := g.seq.Next(ctx, prefix, dateKey)
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}
	return formatCode(prefix, dateKey, n, width), nil
}

// 流水号键保留两天，跨日后自然过期
const codeKeyTTL = 48 * time.Hour

// RedisCodeGenerator 基于 Redis INCR 的编码生成器
type RedisCodeGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisCodeGenerator 创建 Redis 编码生成器
func NewRedisCodeGenerator(rdb *redis.Client) *RedisCodeGenerator {
	return &RedisCodeGenerator{rdb: rdb, now: time.Now}
}

// NextCode 生成下一个编码
func (g *RedisCodeGenerator) NextCode(ctx context.Context, prefix, dateFormat string, width int) (string, error) {
	dateKey := g.now().Format(dateFormat)
	key := fmt.Sprintf("ecn:code:%s:%s", prefix, dateKey)

	pipe := g.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, codeKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("incr code sequence: %w", err)
	}
	return formatCode(prefix, dateKey, incr.Val(), width), nil
}
