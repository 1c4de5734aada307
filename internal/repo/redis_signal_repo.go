package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisSignalRepo はシグナリング封筒を宛先ユーザー単位のハッシュに保存します
// フィールドキーが封筒ID（ULID）なので、個別削除がHDELひとつで済みます
type RedisSignalRepo struct{ rdb *redis.Client }

func NewRedisSignalRepo(rdb *redis.Client) *RedisSignalRepo {
	return &RedisSignalRepo{rdb: rdb}
}

func signalsKey(cid, mid, uid string) string {
	return fmt.Sprintf("classes:%s:meetings:%s:signals:%s", cid, mid, uid)
}

func (sr *RedisSignalRepo) AppendSignal(ctx context.Context, classId, meetingId string, env models.SignalEnvelope, ttlSec int) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	key := signalsKey(classId, meetingId, env.To)
	pipe := sr.rdb.TxPipeline()
	pipe.HSet(ctx, key, env.EnvelopeId, b)
	pipe.Expire(ctx, key, sec(ttlSec)) // 消費されない封筒が残り続けないようにTTLを張り直す
	_, err = pipe.Exec(ctx)
	return err
}

func (sr *RedisSignalRepo) ListSignalsFor(ctx context.Context, classId, meetingId, userId string) ([]models.SignalEnvelope, error) {
	vals, err := sr.rdb.HVals(ctx, signalsKey(classId, meetingId, userId)).Result()
	if err != nil {
		return nil, err
	}
	res := make([]models.SignalEnvelope, 0, len(vals))
	for _, v := range vals {
		var env models.SignalEnvelope
		if err := json.Unmarshal([]byte(v), &env); err != nil {
			// 壊れた封筒は読み飛ばす（受信側の削除で掃除される）
			log.Printf("skipping malformed signal envelope: classId=%s meetingId=%s userId=%s err=%v", classId, meetingId, userId, err)
			continue
		}
		res = append(res, env)
	}
	return res, nil
}

func (sr *RedisSignalRepo) DeleteSignal(ctx context.Context, classId, meetingId, userId, envelopeId string) error {
	return sr.rdb.HDel(ctx, signalsKey(classId, meetingId, userId), envelopeId).Err()
}
