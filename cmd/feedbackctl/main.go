package main

import (
	"context"
	"fmt"
	"os"

	"feedback-sync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "feedbackctl:", err)
		os.Exit(1)
	}
}
