package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "クラスに新しいミーティングを作成します",
		RunE: func(cmd *cobra.Command, args []string) error {
			classId, err := requireClass()
			if err != nil {
				return err
			}
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}

			meetingId, err := client.CreateMeeting(cmd.Context(), classId)
			if err != nil {
				return fmt.Errorf("failed to create meeting: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "meeting created: %s\n", meetingId)
			return nil
		},
	}
}

func newParticipantsCmd() *cobra.Command {
	var meetingId string
	cmd := &cobra.Command{
		Use:   "participants",
		Short: "ミーティングの参加者一覧を表示します",
		RunE: func(cmd *cobra.Command, args []string) error {
			classId, err := requireClass()
			if err != nil {
				return err
			}
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}

			participants, err := client.Participants(cmd.Context(), classId, meetingId)
			if err != nil {
				return fmt.Errorf("failed to list participants: %w", err)
			}
			if len(participants) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no participants")
				return nil
			}
			for _, p := range participants {
				muted := ""
				if p.IsMuted {
					muted = " (muted)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tjoined=%s%s\n",
					p.UserId, p.UserName, time.Unix(p.JoinedAt, 0).Format(time.RFC3339), muted)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&meetingId, "meeting", "", "ミーティングID")
	_ = cmd.MarkFlagRequired("meeting")
	return cmd
}
