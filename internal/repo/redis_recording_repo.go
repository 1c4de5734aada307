package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisRecordingRepo は録画メタデータとリレー保存の録画バイナリをRedisに保存します
type RedisRecordingRepo struct {
	rdb *redis.Client
}

func NewRedisRecordingRepo(rdb *redis.Client) *RedisRecordingRepo {
	return &RedisRecordingRepo{rdb: rdb}
}

func recordingsKey(cid, mid string) string {
	return fmt.Sprintf("classes:%s:meetings:%s:recordings", cid, mid)
}

func recordingKey(cid, mid, rid string) string {
	return fmt.Sprintf("classes:%s:meetings:%s:recordings:%s", cid, mid, rid)
}

func recordingBlobKey(cid, mid, rid string) string {
	return fmt.Sprintf("classes:%s:meetings:%s:recordings:%s:file", cid, mid, rid)
}

// SaveArtifact は録画メタデータを保存し、一覧用のsetに登録します
func (r *RedisRecordingRepo) SaveArtifact(ctx context.Context, classId, meetingId string, art models.RecordingArtifact) error {
	b, err := json.Marshal(art)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, recordingKey(classId, meetingId, art.RecordingId), b, 0)
	pipe.SAdd(ctx, recordingsKey(classId, meetingId), art.RecordingId)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRecordingRepo) GetArtifact(ctx context.Context, classId, meetingId, recordingId string) (models.RecordingArtifact, bool, error) {
	val, err := r.rdb.Get(ctx, recordingKey(classId, meetingId, recordingId)).Bytes()
	if err == redis.Nil {
		return models.RecordingArtifact{}, false, nil
	}
	if err != nil {
		return models.RecordingArtifact{}, false, err
	}
	var art models.RecordingArtifact
	if err := json.Unmarshal(val, &art); err != nil {
		return models.RecordingArtifact{}, false, err
	}
	return art, true, nil
}

func (r *RedisRecordingRepo) ListArtifacts(ctx context.Context, classId, meetingId string) ([]models.RecordingArtifact, error) {
	ids, err := r.rdb.SMembers(ctx, recordingsKey(classId, meetingId)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.RecordingArtifact{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordingKey(classId, meetingId, id)
	}

	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]models.RecordingArtifact, 0, len(ids))
	for _, val := range vals {
		if val == nil {
			continue
		}
		b, ok := val.(string)
		if !ok {
			continue
		}
		var art models.RecordingArtifact
		if json.Unmarshal([]byte(b), &art) == nil {
			res = append(res, art)
		}
	}
	return res, nil
}

// SaveBlob は録画バイナリ本体を保存します（リレー保存の場合のみ使用）
func (r *RedisRecordingRepo) SaveBlob(ctx context.Context, classId, meetingId, recordingId string, data []byte) error {
	return r.rdb.Set(ctx, recordingBlobKey(classId, meetingId, recordingId), data, 0).Err()
}

func (r *RedisRecordingRepo) GetBlob(ctx context.Context, classId, meetingId, recordingId string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, recordingBlobKey(classId, meetingId, recordingId)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
