package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/apiclient"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/config"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/media"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/models"
	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/session"
)

func newJoinCmd() *cobra.Command {
	var (
		meetingId string
		noAudio   bool
		noVideo   bool
		record    bool
		title     string
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "ミーティングに参加します（Ctrl-Cで退出）",
		RunE: func(cmd *cobra.Command, args []string) error {
			classId, err := requireClass()
			if err != nil {
				return err
			}
			cfg, user, err := clientConfig()
			if err != nil {
				return err
			}
			client := apiclient.New(cfg.BaseURL, user, nil)
			return runJoin(client, cfg, classId, meetingId, joinOptions{
				audio:  !noAudio,
				video:  !noVideo,
				record: record,
				title:  title,
				user:   user,
			})
		},
	}
	cmd.Flags().StringVar(&meetingId, "meeting", "", "ミーティングID")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "マイクを使わない")
	cmd.Flags().BoolVar(&noVideo, "no-video", false, "カメラを使わない")
	cmd.Flags().BoolVar(&record, "record", false, "参加と同時に録画を開始し、退出時にアップロードする")
	cmd.Flags().StringVar(&title, "title", "", "録画タイトル（--record時）")
	_ = cmd.MarkFlagRequired("meeting")
	return cmd
}

type joinOptions struct {
	audio  bool
	video  bool
	record bool
	title  string
	user   models.User
}

func runJoin(client *apiclient.Client, cfg config.Client, classId, meetingId string, opts joinOptions) error {
	sess := session.New(client, media.NewSyntheticSource(), session.Config{
		ClassId:        classId,
		MeetingId:      meetingId,
		ICEServers:     cfg.ICEServers,
		Constraints:    media.Constraints{Audio: opts.audio, Video: opts.video},
		SendSpacing:    cfg.SendSpacing,
		PollInterval:   cfg.PollInterval,
		PollJitter:     cfg.PollJitter,
		RosterInterval: cfg.RosterInterval,
		DownloadDir:    cfg.DownloadDir,
	})

	joinCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := sess.Join(joinCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to join meeting: %w", err)
	}

	if opts.record {
		if err := sess.StartRecording(); err != nil {
			log.Printf("failed to start recording: %v", err)
		} else {
			log.Println("recording started")
		}
	}

	// 退出シグナルを待つ
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("leaving meeting...")

	leaveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if opts.record {
		title := opts.title
		if title == "" {
			title = fmt.Sprintf("%s %s", meetingId, time.Now().Format("2006-01-02 15:04"))
		}
		result, err := sess.StopRecording(leaveCtx, title)
		switch {
		case err != nil && result.LocalPath != "":
			log.Printf("recording saved locally: %s (%v)", result.LocalPath, err)
		case err != nil:
			log.Printf("failed to save recording: %v", err)
		default:
			log.Printf("recording uploaded: id=%s", result.Artifact.RecordingId)
		}
	}

	return sess.Leave(leaveCtx)
}
