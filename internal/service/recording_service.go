package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/idgen"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/repo"
)

// ObjectPutter はオブジェクトストアへの保存と署名付きURL発行のインターフェース
// objectstore.Store が実装します。nilの場合は常にリレー保存になります
type ObjectPutter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// RecordingService は録画の保存・一覧・取得を担当します
// オブジェクトストアが設定されていればバイナリ本体をそちらに、
// なければリレーストア（Redis）に保存します
type RecordingService struct {
	recordings repo.RecordingRepo
	objects    ObjectPutter // nil可
}

func NewRecordingService(recordings repo.RecordingRepo, objects ObjectPutter) *RecordingService {
	return &RecordingService{recordings: recordings, objects: objects}
}

// Store は録画バイナリとメタデータを保存し、アーティファクト情報を返します
func (s *RecordingService) Store(ctx context.Context, classId, meetingId, title, contentType string, data []byte, meta models.RecordingMetadata) (models.RecordingArtifact, error) {
	art := models.RecordingArtifact{
		RecordingId:    idgen.NewULID(),
		Title:          title,
		CreatedAt:      time.Now().Unix(),
		StorageBackend: models.StorageRelay,
		ContentType:    contentType,
		Metadata:       meta,
	}

	if s.objects != nil {
		key := fmt.Sprintf("classes/%s/meetings/%s/%s.webm", classId, meetingId, art.RecordingId)
		directUrl, err := s.objects.Put(ctx, key, data, contentType)
		if err != nil {
			// オブジェクトストアが落ちていても録画を失わないようリレー保存に切り替える
			log.Printf("object store put failed, falling back to relay storage: classId=%s meetingId=%s err=%v", classId, meetingId, err)
		} else {
			art.StorageBackend = models.StorageObjectStore
			art.ObjectKey = key
			art.DirectUrl = directUrl
		}
	}

	if art.StorageBackend == models.StorageRelay {
		if err := s.recordings.SaveBlob(ctx, classId, meetingId, art.RecordingId, data); err != nil {
			return models.RecordingArtifact{}, err
		}
	}

	if err := s.recordings.SaveArtifact(ctx, classId, meetingId, art); err != nil {
		return models.RecordingArtifact{}, err
	}
	return art, nil
}

// List はミーティングの録画一覧を返します
func (s *RecordingService) List(ctx context.Context, classId, meetingId string) ([]models.RecordingArtifact, error) {
	return s.recordings.ListArtifacts(ctx, classId, meetingId)
}

// Get は録画のメタデータを返します
func (s *RecordingService) Get(ctx context.Context, classId, meetingId, recordingId string) (models.RecordingArtifact, error) {
	art, ok, err := s.recordings.GetArtifact(ctx, classId, meetingId, recordingId)
	if err != nil {
		return models.RecordingArtifact{}, err
	}
	if !ok {
		return models.RecordingArtifact{}, ErrRecordingNotFound
	}
	return art, nil
}

// Blob はリレー保存された録画バイナリを返します
func (s *RecordingService) Blob(ctx context.Context, classId, meetingId, recordingId string) ([]byte, models.RecordingArtifact, error) {
	art, err := s.Get(ctx, classId, meetingId, recordingId)
	if err != nil {
		return nil, models.RecordingArtifact{}, err
	}
	data, ok, err := s.recordings.GetBlob(ctx, classId, meetingId, recordingId)
	if err != nil {
		return nil, models.RecordingArtifact{}, err
	}
	if !ok {
		return nil, models.RecordingArtifact{}, ErrRecordingBlobNotFound
	}
	return data, art, nil
}

// SecureFileURL はオブジェクトストア上のキーに対する短命の署名付きURLを発行します
func (s *RecordingService) SecureFileURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	if s.objects == nil {
		return "", ErrSecureURLUnavailable
	}
	return s.objects.PresignGet(ctx, objectKey, ttl)
}
