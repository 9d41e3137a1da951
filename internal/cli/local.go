package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"feedback-sync/internal/domain"
	"feedback-sync/internal/usecase/localcache"
)

// PutOptions хранит флаги команды put.
type PutOptions struct {
	*RootOptions
	Session string
	Meta    []string
}

func newPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "put <message-id> <positive|negative>",
		Short: "Записать отзыв в локальный кэш",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[1])
			if err != nil {
				return err
			}
			var putOpts []localcache.PutOption
			if opts.Session != "" {
				putOpts = append(putOpts, localcache.WithSession(opts.Session))
			}
			if len(opts.Meta) > 0 {
				md, err := parseMeta(opts.Meta)
				if err != nil {
					return err
				}
				putOpts = append(putOpts, localcache.WithMetadata(md))
			}
			if err := opts.env.Cache.Put(args[0], kind, putOpts...); err != nil {
				return err
			}
			entry, _ := opts.env.Cache.Get(args[0])
			return emit(cmd, opts.RootOptions, viewOf(entry), func(w io.Writer) { printEntry(w, viewOf(entry)) })
		},
	}
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id")
	cmd.Flags().StringArrayVar(&opts.Meta, "meta", nil, "metadata key=value (repeatable)")
	return cmd
}

func parseMeta(pairs []string) (map[string]any, error) {
	md := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --meta %q: expected key=value", pair)
		}
		md[strings.TrimSpace(key)] = value
	}
	return md, nil
}

func newGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <message-id>",
		Short: "Показать запись локального кэша",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, ok := opts.env.Cache.Get(args[0])
			if !ok {
				return fmt.Errorf("%s: %w", args[0], domain.ErrNotFound)
			}
			v := viewOf(entry)
			return emit(cmd, opts, v, func(w io.Writer) { printEntry(w, v) })
		},
	}
}

func newListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Показать все записи локального кэша",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views := sortedViews(opts.env.Cache.All())
			return emit(cmd, opts, views, func(w io.Writer) {
				for _, v := range views {
					printEntry(w, v)
				}
			})
		},
	}
}

func newUnsyncedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unsynced",
		Short: "Показать несинхронизированные записи",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := opts.env.Cache.Unsynced()
			views := make([]entryView, 0, len(entries))
			for _, e := range entries {
				views = append(views, viewOf(e))
			}
			return emit(cmd, opts, views, func(w io.Writer) {
				for _, v := range views {
					printEntry(w, v)
				}
			})
		},
	}
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Счётчики локального кэша",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := opts.env.Cache.Stats()
			data := map[string]any{
				"total":    st.Total,
				"positive": st.Positive,
				"negative": st.Negative,
				"synced":   st.Synced,
				"durable":  opts.env.Cache.Durable(),
			}
			return emit(cmd, opts, data, func(w io.Writer) {
				fmt.Fprintf(w, "total=%d positive=%d negative=%d synced=%d durable=%t\n",
					st.Total, st.Positive, st.Negative, st.Synced, opts.env.Cache.Durable())
			})
		},
	}
}

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <message-id>",
		Short: "Удалить запись из локального кэша",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.env.Cache.Remove(args[0])
			return emit(cmd, opts, map[string]string{"removed": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "removed %s\n", args[0])
			})
		},
	}
}

func newClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Удалить все записи локального кэша",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.env.Cache.Clear()
			return emit(cmd, opts, map[string]bool{"cleared": true}, func(w io.Writer) {
				fmt.Fprintln(w, "cleared")
			})
		},
	}
}

func newExportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Выгрузить кэш в JSON (stdout или файл)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := opts.env.Cache.Export()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				_, err := cmd.OutOrStdout().Write(append(blob, '\n'))
				return err
			}
			if err := os.WriteFile(args[0], blob, 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			return emit(cmd, opts, map[string]string{"file": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "exported to %s\n", args[0])
			})
		},
	}
}

var errImportRejected = errors.New("import rejected: malformed snapshot")

func newImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Загрузить кэш из JSON, заменив текущее состояние",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}
			if !opts.env.Cache.Import(blob) {
				return errImportRejected
			}
			st := opts.env.Cache.Stats()
			return emit(cmd, opts, map[string]int{"imported": st.Total}, func(w io.Writer) {
				fmt.Fprintf(w, "imported %d entries\n", st.Total)
			})
		},
	}
}

func newReapCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Удалить записи старше срока хранения",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed := opts.env.Cache.Reap()
			return emit(cmd, opts, map[string]int{"removed": removed}, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d entries\n", removed)
			})
		},
	}
}
