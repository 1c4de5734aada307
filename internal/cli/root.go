// Package cli はミーティングクライアントCLI（meetctl）のコマンド定義です
package cli

import (
	"errors"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/apiclient"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/config"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
)

var (
	flagBaseURL  string
	flagClass    string
	flagUserId   string
	flagUserName string
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "meetctl",
		Short:         "ライブミーティングのクライアントCLI",
		Long:          "meetctl はリレーサーバー経由でミーティングへの参加・録画・録画取得を行うCLIです",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .envがあれば読み込む（なくてもエラーにしない）
			if err := godotenv.Load(); err == nil {
				log.Println("loaded .env")
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "リレーサーバーのベースURL（未指定ならMEET_BASE_URL）")
	cmd.PersistentFlags().StringVar(&flagClass, "class", "", "クラスID")
	cmd.PersistentFlags().StringVar(&flagUserId, "user-id", "", "ユーザーID（未指定ならMEET_USER_ID）")
	cmd.PersistentFlags().StringVar(&flagUserName, "user-name", "", "表示名（未指定ならMEET_USER_NAME）")

	cmd.AddCommand(
		newCreateCmd(),
		newJoinCmd(),
		newParticipantsCmd(),
		newRecordingsCmd(),
		newFetchCmd(),
	)
	return cmd
}

// clientConfig はフラグと環境変数からクライアント設定と認証情報を組み立てます
func clientConfig() (config.Client, models.User, error) {
	cfg := config.LoadClient()
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}

	userId := flagUserId
	if userId == "" {
		userId = os.Getenv("MEET_USER_ID")
	}
	userName := flagUserName
	if userName == "" {
		userName = os.Getenv("MEET_USER_NAME")
	}
	if userId == "" {
		return config.Client{}, models.User{}, errors.New("user id is required (--user-id or MEET_USER_ID)")
	}
	if userName == "" {
		userName = userId
	}
	return cfg, models.User{UserId: userId, UserName: userName}, nil
}

func requireClass() (string, error) {
	if flagClass == "" {
		return "", errors.New("class id is required (--class)")
	}
	return flagClass, nil
}

func newAPIClient() (*apiclient.Client, config.Client, error) {
	cfg, user, err := clientConfig()
	if err != nil {
		return nil, config.Client{}, err
	}
	return apiclient.New(cfg.BaseURL, user, nil), cfg, nil
}
