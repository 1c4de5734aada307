// Package config はアプリケーションの設定を管理します
// 環境変数から設定を読み込み、デフォルト値を提供します
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIAddr       = ":8080"          // APIサーバーのデフォルトリッスンアドレス
	defaultRedisAddr     = "localhost:6379" // Redisのデフォルト接続先
	defaultMeetingTTLSec = 60 * 60          // ミーティングのデフォルトTTL（1時間）
	defaultSignalTTLSec  = 5 * 60           // 未消費シグナル封筒のTTL（5分）
)

// defaultAllowedOrigins はCORSで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
}

// Config はリレーサーバー（relayd）の設定を保持します
type Config struct {
	APIAddr        string      // APIサーバーのリッスンアドレス
	RedisAddr      string      // Redisの接続先
	MeetingTTL     int         // ミーティングのTTL（秒）
	SignalTTL      int         // シグナル封筒のTTL（秒）
	AllowedOrigins []string    // CORSで許可するオリジン一覧
	PublicBaseURL  string      // 録画のdownloadUrl生成に使う公開ベースURL
	ObjectStore    ObjectStore // 録画用オブジェクトストア設定
}

// Load は環境変数から設定を読み込みます
// 環境変数が設定されていない場合はデフォルト値を使用します
func Load() Config {
	return Config{
		APIAddr:        envOr("API_ADDR", defaultAPIAddr),
		RedisAddr:      envOr("REDIS_ADDR", defaultRedisAddr),
		MeetingTTL:     envInt("MEETING_TTL_SEC", defaultMeetingTTLSec),
		SignalTTL:      envInt("SIGNAL_TTL_SEC", defaultSignalTTLSec),
		AllowedOrigins: envCSV("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		PublicBaseURL:  envOr("PUBLIC_BASE_URL", "http://localhost:8080"),
		ObjectStore:    loadObjectStore(),
	}
}

// Client はミーティングクライアント（meetctl / 組み込み利用）の設定を保持します
type Client struct {
	BaseURL        string        // リレーサーバーのベースURL
	ICEServers     []string      // STUN/TURNサーバーのURL一覧
	SendSpacing    time.Duration // シグナル送信の最小間隔
	PollInterval   time.Duration // シグナルポーリングの基本間隔
	PollJitter     time.Duration // ポーリング間隔に加えるジッタの上限
	RosterInterval time.Duration // 参加者一覧の同期間隔
	DownloadDir    string        // アップロード失敗時のローカル保存先
}

// LoadClient は環境変数からクライアント設定を読み込みます
func LoadClient() Client {
	return Client{
		BaseURL:        envOr("MEET_BASE_URL", "http://localhost:8080"),
		ICEServers:     envCSV("MEET_ICE_SERVERS", []string{"stun:stun.l.google.com:19302"}),
		SendSpacing:    envDur("MEET_SEND_SPACING", 100*time.Millisecond),
		PollInterval:   envDur("MEET_POLL_INTERVAL", 1500*time.Millisecond),
		PollJitter:     envDur("MEET_POLL_JITTER", 500*time.Millisecond),
		RosterInterval: envDur("MEET_ROSTER_INTERVAL", 3*time.Second),
		DownloadDir:    envOr("MEET_DOWNLOAD_DIR", "."),
	}
}

// envOr は環境変数から文字列を取得します
// 環境変数が設定されていない場合はデフォルト値を返します
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt は環境変数から整数を取得します
// 環境変数が設定されていない、または無効な値の場合はデフォルト値を返します
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid %s=%s, fallback to default (%d)", key, v, def)
			return def
		}
		return i
	}
	return def
}

// envDur は環境変数からtime.Durationを取得します（例: "100ms", "3s"）
func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("invalid %s=%s, fallback to default (%s)", key, v, def)
			return def
		}
		return d
	}
	return def
}

// envBool は環境変数から真偽値を取得します
func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("invalid %s=%s, fallback to default (%t)", key, v, def)
			return def
		}
		return b
	}
	return def
}

// envCSV は環境変数からカンマ区切りの文字列リストを取得します
// 環境変数が設定されていない、または空の場合はデフォルト値を返します
func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
