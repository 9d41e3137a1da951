package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"feedback-sync/internal/adapters/wire"
)

// RemoteStatsOptions хранит флаги команды remote stats.
type RemoteStatsOptions struct {
	*RootOptions
	Days    int
	Session string
}

func newRemoteCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Запросы к серверу отзывов",
	}
	cmd.AddCommand(newRemoteGetCommand(opts), newRemoteStatsCommand(opts))
	return cmd
}

func newRemoteGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <message-id>",
		Short: "Прочитать запись с сервера",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := opts.env.Engine.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			f := wire.FromRecord(rec)
			return emit(cmd, opts, f, func(w io.Writer) {
				fmt.Fprintf(w, "%s\t%s\t%s", f.MessageID, f.FeedbackType, f.Timestamp)
				if f.SessionID != "" {
					fmt.Fprintf(w, "\tsession=%s", f.SessionID)
				}
				fmt.Fprintln(w)
			})
		},
	}
}

func newRemoteStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteStatsOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Серверная статистика за окно дней",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			st, err := opts.env.Engine.RemoteStats(cmd.Context(), opts.Days, opts.Session)
			if err != nil {
				return err
			}
			v := wire.FromStats(st)
			return emit(cmd, opts.RootOptions, v, func(w io.Writer) {
				fmt.Fprintf(w, "days=%d total=%d positive=%d negative=%d\n", v.Days, v.Total, v.Positive, v.Negative)
			})
		},
	}
	cmd.Flags().IntVar(&opts.Days, "days", 0, "window in days (server default when 0)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "filter by session id")
	return cmd
}

func newHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Проверить доступность сервера",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.env.Transport.Health(cmd.Context())
			if err != nil {
				return err
			}
			v := wire.FromHealth(h)
			return emit(cmd, opts, v, func(w io.Writer) {
				fmt.Fprintf(w, "%s at %s\n", v.Status, v.Timestamp)
			})
		},
	}
}
