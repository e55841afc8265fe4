// pgstore.go — bus_pending 表存储 (总线降级落盘的 Postgres 实现)。
package bus

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGFallbackStore FallbackStore 的 Postgres 实现。
//
// 表结构见 migrations/001_init.sql 的 bus_pending。
type PGFallbackStore struct {
	pool *pgxpool.Pool
}

// NewPGFallbackStore 创建。
func NewPGFallbackStore(pool *pgxpool.Pool) *PGFallbackStore {
	return &PGFallbackStore{pool: pool}
}

// SavePending 保存一条 pending 消息。
func (s *PGFallbackStore) SavePending(ctx context.Context, msg Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bus_pending (topic, from_id, msg_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.Topic, msg.From, msg.Type, msg.Payload, msg.Timestamp)
	return err
}

// LoadPending 加载最早的 N 条 pending 消息 (按 seq 排序)。
func (s *PGFallbackStore) LoadPending(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, topic, from_id, msg_type, payload, created_at
		 FROM bus_pending ORDER BY seq ASC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.Topic, &m.From, &m.Type, &m.Payload, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeletePending 删除已补发的消息。
func (s *PGFallbackStore) DeletePending(ctx context.Context, seq int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM bus_pending WHERE seq = $1`, seq)
	return err
}

// CountPending 统计 pending 消息数量 (诊断用)。
func (s *PGFallbackStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bus_pending`).Scan(&count)
	return count, err
}
