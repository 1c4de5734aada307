package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/redis/go-redis/v9"
)

type RedisMeetingRepo struct{ rdb *redis.Client }

func NewRedisMeetingRepo(rdb *redis.Client) *RedisMeetingRepo {
	return &RedisMeetingRepo{rdb: rdb}
}

func meetingKey(cid, mid string) string {
	return fmt.Sprintf("classes:%s:meetings:%s", cid, mid)
}
func participantsKey(cid, mid string) string {
	return fmt.Sprintf("classes:%s:meetings:%s:participants", cid, mid)
}
func participantKey(cid, mid, uid string) string {
	return fmt.Sprintf("classes:%s:meetings:%s:participants:%s", cid, mid, uid)
}

func sec(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func (rr *RedisMeetingRepo) CreateMeeting(ctx context.Context, m models.Meeting, ttlSec int) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	d := sec(ttlSec)
	ok, err := rr.rdb.SetArgs(ctx, meetingKey(m.ClassId, m.MeetingId), b, redis.SetArgs{Mode: "NX", TTL: d}).Result()
	if err != nil {
		return err
	}
	if ok != "OK" {
		return errors.New("meeting already exists")
	}
	return nil
}

func (rr *RedisMeetingRepo) GetMeeting(ctx context.Context, classId, meetingId string) (models.Meeting, bool, error) {
	val, err := rr.rdb.Get(ctx, meetingKey(classId, meetingId)).Bytes()
	if err == redis.Nil { // データがない
		return models.Meeting{}, false, nil
	}
	if err != nil { // エラー
		return models.Meeting{}, false, err
	}
	var m models.Meeting
	if err := json.Unmarshal(val, &m); err != nil {
		return models.Meeting{}, false, err
	}
	return m, true, nil
}

func (rr *RedisMeetingRepo) DeleteMeeting(ctx context.Context, classId, meetingId string) error {
	// Luaスクリプトでアトミックに処理
	script := `
		local meeting_key = KEYS[1]
		local participants_key = KEYS[2]

		-- 参加者一覧を取得
		local user_ids = redis.call('SMEMBERS', participants_key)

		-- 削除するキーリストを構築
		local keys_to_delete = {meeting_key, participants_key}
		for _, uid in ipairs(user_ids) do
			table.insert(keys_to_delete, participants_key .. ':' .. uid)
		end

		-- 一括削除
		if #keys_to_delete > 0 then
			redis.call('DEL', unpack(keys_to_delete))
		end

		return 'OK'
	`

	return rr.rdb.Eval(ctx, script, []string{meetingKey(classId, meetingId), participantsKey(classId, meetingId)}).Err()
}

func (rr *RedisMeetingRepo) ExistsMeeting(ctx context.Context, classId, meetingId string) (bool, error) {
	n, err := rr.rdb.Exists(ctx, meetingKey(classId, meetingId)).Result()
	return n == 1, err
}

func (rr *RedisMeetingRepo) TouchMeeting(ctx context.Context, classId, meetingId string, ttlSec int) error {
	// Luaスクリプトでアトミックに処理
	script := `
		local meeting_key = KEYS[1]
		local participants_key = KEYS[2]
		local ttl = tonumber(ARGV[1])

		redis.call('EXPIRE', meeting_key, ttl)
		redis.call('EXPIRE', participants_key, ttl)

		local user_ids = redis.call('SMEMBERS', participants_key)
		for _, uid in ipairs(user_ids) do
			redis.call('EXPIRE', participants_key .. ':' .. uid, ttl)
		end

		return 'OK'
	`

	return rr.rdb.Eval(ctx, script, []string{meetingKey(classId, meetingId), participantsKey(classId, meetingId)}, ttlSec).Err()
}

func (rr *RedisMeetingRepo) AddParticipant(ctx context.Context, classId, meetingId string, p models.Participant, ttlSec int) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	d := sec(ttlSec)
	pipe := rr.rdb.TxPipeline()
	pipe.Set(ctx, participantKey(classId, meetingId, p.UserId), b, d) // 参加者情報を追加
	pipe.SAdd(ctx, participantsKey(classId, meetingId), p.UserId)     // 参加者setに追加
	pipe.Expire(ctx, participantsKey(classId, meetingId), d)
	pipe.Expire(ctx, meetingKey(classId, meetingId), d)
	_, err = pipe.Exec(ctx)
	return err
}

func (rr *RedisMeetingRepo) RemoveParticipant(ctx context.Context, classId, meetingId, userId string) error {
	pipe := rr.rdb.TxPipeline()
	pipe.SRem(ctx, participantsKey(classId, meetingId), userId)
	pipe.Del(ctx, participantKey(classId, meetingId, userId))
	_, err := pipe.Exec(ctx)
	return err
}

func (rr *RedisMeetingRepo) ListParticipants(ctx context.Context, classId, meetingId string) ([]models.Participant, error) {
	ids, err := rr.rdb.SMembers(ctx, participantsKey(classId, meetingId)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Participant{}, nil
	}

	// 参加者キーを構築
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantKey(classId, meetingId, id)
	}

	// 一括取得
	vals, err := rr.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]models.Participant, 0, len(ids))
	for _, val := range vals {
		if val == nil {
			continue
		}
		b, ok := val.(string)
		if !ok {
			continue
		}
		var p models.Participant
		if json.Unmarshal([]byte(b), &p) == nil {
			res = append(res, p)
		}
	}
	return res, nil
}

func (rr *RedisMeetingRepo) UpdateParticipantMute(ctx context.Context, classId, meetingId, userId string, isMuted bool) error {
	key := participantKey(classId, meetingId, userId)

	// WATCHで読み取り・書き込みをトランザクション化
	return rr.rdb.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrParticipantNotFound
		}
		if err != nil {
			return err
		}

		var p models.Participant
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		p.IsMuted = isMuted

		b, err := json.Marshal(p)
		if err != nil {
			return err
		}

		ttl, err := tx.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		if ttl < 0 {
			ttl = 0 // TTLなしはそのまま維持
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, ttl)
			return nil
		})
		return err
	}, key)
}
