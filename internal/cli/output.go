package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"feedback-sync/internal/usecase/localcache"
)

// entryView задаёт форму записи кэша в выводе json.
type entryView struct {
	MessageID string         `json:"messageId"`
	Kind      string         `json:"feedbackType"`
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Synced    bool           `json:"synced"`
}

func viewOf(e localcache.Entry) entryView {
	return entryView{
		MessageID: e.MessageID,
		Kind:      string(e.Kind),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		SessionID: e.SessionID,
		Metadata:  e.Metadata,
		Synced:    e.Synced,
	}
}

func sortedViews(entries map[string]localcache.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewOf(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

// emit печатает data как json или вызывает text для текстового формата.
func emit(cmd *cobra.Command, opts *RootOptions, data any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	text(w)
	return nil
}

func printEntry(w io.Writer, v entryView) {
	state := "unsynced"
	if v.Synced {
		state = "synced"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s", v.MessageID, v.Kind, v.Timestamp, state)
	if v.SessionID != "" {
		fmt.Fprintf(w, "\tsession=%s", v.SessionID)
	}
	fmt.Fprintln(w)
}
