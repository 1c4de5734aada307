package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/config"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/handlers"
	httpx "github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/http"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/objectstore"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/repo"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/service"
)

func main() {
	// .envがあれば読み込む（なくてもエラーにしない）
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	cfg := config.Load()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		PoolSize:     10,              // 接続プールサイズ
		MinIdleConns: 5,               // 最小アイドル接続数
		MaxRetries:   3,               // リトライ回数
		DialTimeout:  5 * time.Second, // 接続タイムアウト
		ReadTimeout:  3 * time.Second, // 読み込みタイムアウト
		WriteTimeout: 3 * time.Second, // 書き込みタイムアウト
		PoolTimeout:  4 * time.Second, // プールからの取得タイムアウト
	})

	// Redis接続確認
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	log.Println("connected to redis")

	// オブジェクトストアは設定がある場合のみ有効化
	var objects service.ObjectPutter
	if cfg.ObjectStore.Enabled() {
		store, err := objectstore.New(cfg.ObjectStore)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
		objects = store
		log.Printf("object store enabled: bucket=%s", cfg.ObjectStore.Bucket)
	} else {
		log.Println("object store not configured, recordings will be stored in relay")
	}

	meetings := repo.NewRedisMeetingRepo(rdb)
	signals := repo.NewRedisSignalRepo(rdb)
	recordings := repo.NewRedisRecordingRepo(rdb)

	meetingSvc := service.NewMeetingService(meetings, service.NewMeetingIDGenerator(), cfg.MeetingTTL)
	signalSvc := service.NewSignalService(meetings, signals, cfg.SignalTTL)
	recordingSvc := service.NewRecordingService(recordings, objects)

	m := handlers.NewMeetingHandler(meetingSvc)
	sig := handlers.NewSignalHandler(signalSvc)
	rec := handlers.NewRecordingHandler(recordingSvc, cfg.PublicBaseURL)
	ws := handlers.NewWebSocketHandler(meetingSvc)
	router := httpx.NewRouter(m, sig, rec, ws, cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown用のシグナルチャネル
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// サーバーを別goroutineで起動
	go func() {
		log.Printf("listening on %s", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// シャットダウンシグナルを待つ
	<-sigChan
	log.Println("shutdown signal received, shutting down gracefully...")

	// 30秒のタイムアウトでGraceful Shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	log.Println("server stopped")
}
