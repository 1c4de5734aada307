// Package models はアプリケーションで使用するデータ構造を定義します
package models

import "encoding/json"

// Participant はミーティングに参加しているユーザーの情報を表します
// ミーティングごとのレジストリにTTL付きで保存されます
type Participant struct {
	UserId    string `json:"userId"`              // ユーザーの一意な識別子
	UserName  string `json:"userName"`            // ユーザー名（表示用）
	UserImage string `json:"userImage,omitempty"` // ユーザーのアイコン画像URL（オプショナル）
	IsMuted   bool   `json:"isMuted"`             // ミュート状態（true: ミュート中、false: ミュート解除）
	JoinedAt  int64  `json:"joinedAt"`            // 参加日時（Unixタイムスタンプ）
}

// Meeting はクラスに紐づくライブミーティングを表します
type Meeting struct {
	ClassId   string `json:"classId"`   // 所属クラスの識別子
	MeetingId string `json:"meetingId"` // ミーティングの一意な識別子
	OwnerId   string `json:"ownerId"`   // ミーティングのオーナー（開始した教師）のユーザーID
	CreatedAt int64  `json:"createdAt"` // 作成日時（Unixタイムスタンプ）
}

// SignalKind はシグナリングメッセージの種別
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"     // SDPオファー
	SignalAnswer    SignalKind = "answer"    // SDPアンサー
	SignalCandidate SignalKind = "candidate" // ICE候補
	SignalProbe     SignalKind = "probe"     // 疎通確認（ペイロードは不透明）
)

// SignalEnvelope は参加者間で交換されるシグナリングメッセージの封筒です
// 宛先単位でストアに保存され、受信側が処理後に削除します（at-most-once）
type SignalEnvelope struct {
	EnvelopeId string          `json:"envelopeId"` // 封筒の一意な識別子（ULID）
	From       string          `json:"from"`       // 送信者のユーザーID
	To         string          `json:"to"`         // 宛先のユーザーID
	Kind       SignalKind      `json:"kind"`       // メッセージ種別
	Payload    json.RawMessage `json:"payload"`    // 種別ごとのペイロード（SDP / ICE候補など）
	SentAt     int64           `json:"sentAt"`     // 送信日時（UnixMilli）
}

// 録画データの保存先
const (
	StorageRelay       = "relay"       // リレーストア（Redis）内に保存
	StorageObjectStore = "objectStore" // S3互換オブジェクトストアに保存
)

// RecordingMetadata は録画に付随するメタデータです
type RecordingMetadata struct {
	DurationMs       int64 `json:"durationMs"`       // 録画時間（ミリ秒）
	StartedAt        int64 `json:"startedAt"`        // 録画開始日時（UnixMilli）
	StoppedAt        int64 `json:"stoppedAt"`        // 録画終了日時（UnixMilli）
	ParticipantCount int   `json:"participantCount"` // 停止時点の参加者数
}

// RecordingArtifact は保存済み録画の情報を表します
// StorageBackend が objectStore の場合、再生時は ObjectKey から
// 短命の署名付きURLを都度取得します（DirectUrl は最終フォールバック）
type RecordingArtifact struct {
	RecordingId    string            `json:"recordingId"`           // 録画の一意な識別子（ULID）
	Title          string            `json:"title"`                 // タイトル（表示用）
	CreatedAt      int64             `json:"createdAt"`             // 保存日時（Unixタイムスタンプ）
	StorageBackend string            `json:"storageBackend"`        // 保存先（relay / objectStore）
	ObjectKey      string            `json:"objectKey,omitempty"`   // オブジェクトストア上のキー
	DirectUrl      string            `json:"directUrl,omitempty"`   // 直接アクセスURL（存在する場合のみ）
	ContentType    string            `json:"contentType,omitempty"` // 保存時に判明していればコンテンツタイプ
	Metadata       RecordingMetadata `json:"metadata"`              // 録画メタデータ
}

// User は認証基盤から渡される認証済みユーザー情報です
// 認証・認可そのものは本リポジトリの対象外です
type User struct {
	UserId    string `json:"userId"`
	UserName  string `json:"userName"`
	FullName  string `json:"fullname,omitempty"`
	UserImage string `json:"userImage,omitempty"`
}
