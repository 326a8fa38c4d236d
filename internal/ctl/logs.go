package ctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/large-farva/operator-console/internal/logs"
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	Limit  int
	Tail   bool
	Filter logs.Filter
	JSON   bool
}

// Logs shows recent robot log entries, or streams them live with --tail.
func Logs(ctx context.Context, baseURL string, opts LogsOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	// --tail mode: follow the log stream. Its greeting is the snapshot.
	if opts.Tail {
		return Watch(ctx, baseURL, WatchOptions{
			Streams: []string{StreamLogs},
			Filter:  opts.Filter,
			JSON:    opts.JSON,
		})
	}

	rctx, cancel := requestContext()
	defer cancel()
	snap, err := newClient(baseURL).Logs(rctx, opts.Limit)
	if err != nil {
		return err
	}
	entries := logs.Apply(snap.Entries, opts.Filter, logs.Sort{Column: "timestamp", Ascending: true})

	if opts.JSON {
		return printJSON(entries)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, header("  ROBOT LOGS"))
	fmt.Fprintln(stdout, rule(70))

	if len(entries) == 0 {
		fmt.Fprintln(stdout, "  No log entries found.")
	} else {
		for _, e := range entries {
			fmt.Fprintln(stdout, formatEntry(e))
		}
	}

	fmt.Fprintln(stdout)
	return nil
}
