package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusOnline = "online"
	StatusAway   = "away"

	connKeyPrefix = "presence:conn:"
)

// Record 是单条在线状态：一个连接一条，同一用户多端登录时有多条。
type Record struct {
	UserID   uint      `json:"user_id"`
	ConnID   string    `json:"conn_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// Connect 按 URL 建立 Redis 连接并 Ping 验证。
func Connect(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("presence: redis url is empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Store 基于 Redis 的在线状态表。每次写入都刷新 TTL，
// 连接异常断开没有触发显式下线时，记录在 TTL 后自动过期兜底。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func connKey(connID string) string {
	return connKeyPrefix + connID
}

func indexKey(userID uint) string {
	return "presence:user:" + strconv.FormatUint(uint64(userID), 10)
}

func (s *Store) write(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, connKey(rec.ConnID), b, s.ttl)
	pipe.SAdd(ctx, indexKey(rec.UserID), rec.ConnID)
	pipe.Expire(ctx, indexKey(rec.UserID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// SetOnline 注册或刷新一条连接的在线记录。
func (s *Store) SetOnline(ctx context.Context, userID uint, connID string) error {
	return s.write(ctx, Record{UserID: userID, ConnID: connID, Status: StatusOnline, LastSeen: time.Now()})
}

// SetOffline 按连接 ID 删除在线记录，传输层断开时调用。
func (s *Store) SetOffline(ctx context.Context, connID string) error {
	rec, err := s.get(ctx, connID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, connKey(connID))
	pipe.SRem(ctx, indexKey(rec.UserID), connID)
	_, err = pipe.Exec(ctx)
	return err
}

// UpdateStatus 更新某用户全部活跃连接的状态并刷新 TTL。
func (s *Store) UpdateStatus(ctx context.Context, userID uint, status string) error {
	if status != StatusOnline && status != StatusAway {
		return errors.New("presence: unknown status " + status)
	}
	connIDs, err := s.rdb.SMembers(ctx, indexKey(userID)).Result()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, connID := range connIDs {
		rec, err := s.get(ctx, connID)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// 连接记录已过期，顺手清掉索引。
				_ = s.rdb.SRem(ctx, indexKey(userID), connID).Err()
				continue
			}
			return err
		}
		rec.Status = status
		rec.LastSeen = now
		if err := s.write(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// IsOnline 判断用户是否至少有一条未过期的连接记录。
func (s *Store) IsOnline(ctx context.Context, userID uint) (bool, error) {
	connIDs, err := s.rdb.SMembers(ctx, indexKey(userID)).Result()
	if err != nil {
		return false, err
	}
	for _, connID := range connIDs {
		exists, err := s.rdb.Exists(ctx, connKey(connID)).Result()
		if err != nil {
			return false, err
		}
		if exists > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ListOnline 扫描全部连接记录并按用户去重，保留最新的 LastSeen。
func (s *Store) ListOnline(ctx context.Context) ([]Record, error) {
	var recs []Record
	iter := s.rdb.Scan(ctx, 0, connKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return dedupeByUser(recs), nil
}

func (s *Store) get(ctx context.Context, connID string) (Record, error) {
	var rec Record
	data, err := s.rdb.Get(ctx, connKey(connID)).Bytes()
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// dedupeByUser 多端登录只保留每个用户最新的一条，输出按用户 ID 排序保证稳定。
func dedupeByUser(recs []Record) []Record {
	latest := make(map[uint]Record, len(recs))
	for _, r := range recs {
		if cur, ok := latest[r.UserID]; !ok || r.LastSeen.After(cur.LastSeen) {
			latest[r.UserID] = r
		}
	}
	out := make([]Record, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
