package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/recording"
)

func newRecordingsCmd() *cobra.Command {
	var meetingId string
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "ミーティングの録画一覧を表示します",
		RunE: func(cmd *cobra.Command, args []string) error {
			classId, err := requireClass()
			if err != nil {
				return err
			}
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}

			recordings, err := client.Recordings(cmd.Context(), classId, meetingId)
			if err != nil {
				return fmt.Errorf("failed to list recordings: %w", err)
			}
			if len(recordings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recordings")
				return nil
			}
			for _, art := range recordings {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\tduration=%s\n",
					art.RecordingId,
					art.Title,
					time.Unix(art.CreatedAt, 0).Format(time.RFC3339),
					art.StorageBackend,
					time.Duration(art.Metadata.DurationMs)*time.Millisecond)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&meetingId, "meeting", "", "ミーティングID")
	_ = cmd.MarkFlagRequired("meeting")
	return cmd
}

func newFetchCmd() *cobra.Command {
	var (
		meetingId   string
		recordingId string
		outDir      string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "録画データをダウンロードします",
		RunE: func(cmd *cobra.Command, args []string) error {
			classId, err := requireClass()
			if err != nil {
				return err
			}
			client, cfg, err := newAPIClient()
			if err != nil {
				return err
			}

			art, err := client.Recording(cmd.Context(), classId, meetingId, recordingId)
			if err != nil {
				return fmt.Errorf("failed to get recording: %w", err)
			}

			retriever := recording.NewRetriever(nil, cfg.BaseURL, client)
			retriever.Decorate = client.Decorate

			dir := outDir
			if dir == "" {
				dir = cfg.DownloadDir
			}
			path, err := retriever.FetchToFile(cmd.Context(), classId, meetingId, art, dir)
			if err != nil {
				return fmt.Errorf("failed to fetch recording: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&meetingId, "meeting", "", "ミーティングID")
	cmd.Flags().StringVar(&recordingId, "recording", "", "録画ID")
	cmd.Flags().StringVar(&outDir, "out", "", "保存先ディレクトリ（未指定ならMEET_DOWNLOAD_DIR）")
	_ = cmd.MarkFlagRequired("meeting")
	_ = cmd.MarkFlagRequired("recording")
	return cmd
}
