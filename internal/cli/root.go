// Package cli реализует команды feedbackctl.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions хранит глобальные флаги и окружение команд.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	factory Factory
	env     *Env
	cleanup func()
}

// ValidFormats перечисляет допустимые форматы вывода.
var ValidFormats = []string{"text", "json"}

// NewRootCommand создаёт корневую команду с окружением из конфигурации.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(DefaultFactory)
}

// NewRootCommandWith создаёт корневую команду с заданной фабрикой окружения.
func NewRootCommandWith(factory Factory) *cobra.Command {
	opts := &RootOptions{factory: factory}

	cmd := &cobra.Command{
		Use:           "feedbackctl",
		Short:         "Локальный кэш отзывов и его синхронизация с сервером",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			env, cleanup, err := opts.factory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			opts.env = env
			opts.cleanup = cleanup
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newPutCommand(opts),
		newGetCommand(opts),
		newListCommand(opts),
		newUnsyncedCommand(opts),
		newStatsCommand(opts),
		newRemoveCommand(opts),
		newClearCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newReapCommand(opts),
		newSyncCommand(opts),
		newSendCommand(opts),
		newWatchCommand(opts),
		newRemoteCommand(opts),
		newHealthCommand(opts),
	)
	releaseAfterRun(cmd, opts)
	return cmd
}

// releaseAfterRun освобождает окружение после RunE каждой команды, в том числе при ошибке.
func releaseAfterRun(cmd *cobra.Command, opts *RootOptions) {
	for _, sub := range cmd.Commands() {
		releaseAfterRun(sub, opts)
	}
	if cmd.RunE == nil {
		return
	}
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		defer opts.release()
		return run(cmd, args)
	}
}

func (o *RootOptions) release() {
	if o.cleanup != nil {
		o.cleanup()
		o.cleanup = nil
	}
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
