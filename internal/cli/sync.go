package cli

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"feedback-sync/internal/usecase/syncer"
)

type rejectedView struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

type syncView struct {
	Skipped  bool           `json:"skipped"`
	Batches  int            `json:"batches"`
	Pushed   int            `json:"pushed"`
	Saved    int            `json:"saved"`
	Marked   int            `json:"marked"`
	Rejected []rejectedView `json:"rejected"`
}

func syncViewOf(res syncer.Result) syncView {
	v := syncView{Skipped: res.Skipped, Batches: res.Batches, Pushed: res.Pushed, Saved: res.Saved, Marked: res.Marked, Rejected: []rejectedView{}}
	for _, r := range res.Rejected {
		v.Rejected = append(v.Rejected, rejectedView{MessageID: r.MessageID, Error: r.Error})
	}
	return v
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Отправить несинхронизированные записи пакетами",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.env.Engine.ForceSync(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync failed, %d entries stay unsynced: %w", len(opts.env.Cache.Unsynced()), err)
			}
			v := syncViewOf(res)
			return emit(cmd, opts, v, func(w io.Writer) {
				fmt.Fprintf(w, "batches=%d pushed=%d saved=%d marked=%d rejected=%d\n", v.Batches, v.Pushed, v.Saved, v.Marked, len(v.Rejected))
				for _, r := range v.Rejected {
					fmt.Fprintf(w, "rejected %s: %s\n", r.MessageID, r.Error)
				}
			})
		},
	}
}

func newSendCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message-id>",
		Short: "Отправить одну запись на сервер",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.env.Engine.Send(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(cmd, opts, map[string]any{"messageId": args[0], "feedbackId": id}, func(w io.Writer) {
				fmt.Fprintf(w, "sent %s as #%d\n", args[0], id)
			})
		},
	}
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Синхронизировать по таймеру до сигнала остановки",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			engine := opts.env.Engine
			if _, err := engine.ForceSync(ctx); err != nil {
				opts.env.Logger.Warn().Err(err).Msg("feedbackctl: первая синхронизация не удалась")
			}
			engine.Start(ctx)
			<-ctx.Done()
			engine.Stop()
			return nil
		},
	}
}
