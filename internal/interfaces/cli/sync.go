package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncbridge/syncbridge/internal/application/batchsync"
	"github.com/syncbridge/syncbridge/internal/infrastructure/delivery"
	"github.com/syncbridge/syncbridge/pkg/errors"
)

// syncOptions holds the flags of the sync subcommand.
type syncOptions struct {
	keysFile    string
	force       bool
	concurrency int
	json        bool
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	syncOpts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync [keys...]",
		Short: "Run a one-shot batch reconciliation over the given keys",
		Long: "Reconciles every key against the downstream service with adaptive\n" +
			"concurrency.  Keys come from arguments, or one per line from --file\n" +
			"(use \"-\" for stdin).",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := initRuntime(opts)
			if err != nil {
				return err
			}
			keys, err := collectKeys(args, syncOpts.keysFile)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return errors.InvalidParam("no keys given; pass them as arguments or via --file")
			}
			return runSync(cmd, rt, syncOpts, keys)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&syncOpts.keysFile, "file", "f", "", "read keys from file, one per line (\"-\" for stdin)")
	f.BoolVar(&syncOpts.force, "force", false, "rewrite values even when they already match")
	f.IntVar(&syncOpts.concurrency, "concurrency", 0, "initial chunk concurrency (default from config)")
	f.BoolVar(&syncOpts.json, "json", false, "print the full run summary as JSON")

	return cmd
}

// collectKeys merges argument keys with file keys, skipping blank lines and
// "#" comments.
func collectKeys(args []string, file string) ([]string, error) {
	keys := append([]string(nil), args...)
	if file == "" {
		return keys, nil
	}

	var r *os.File
	if file == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "open keys file")
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "read keys file")
	}
	return keys, nil
}

func runSync(cmd *cobra.Command, rt *runtime, opts *syncOptions, keys []string) error {
	client := delivery.NewClient(rt.cfg.Delivery, rt.logger)
	synchronizer := batchsync.New(rt.cfg.Sync, rt.logger, nil)

	sum, err := synchronizer.SyncMany(cmd.Context(), keys, client.SyncKey, batchsync.Options{
		InitialConcurrency: opts.concurrency,
		Force:              opts.force,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	fmt.Fprintf(out, "run %s: %d keys in %d pass(es), %s\n",
		sum.RunID, sum.Total, sum.Passes, sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  updated: %d  no_change: %d  skipped: %d  errors: %d  still_failing: %d\n",
		sum.Updated, sum.NoChange, sum.Skipped, sum.Errors, sum.StillFailing)
	for _, d := range sum.Details {
		if d.Error != "" {
			fmt.Fprintf(out, "  %s: %s (%s)\n", d.Key, d.Action, d.Error)
		}
	}
	if sum.StillFailing > 0 {
		return errors.New(errors.ErrCodeSyncStillFailing,
			fmt.Sprintf("%d key(s) still failing after %d pass(es)", sum.StillFailing, sum.Passes))
	}
	return nil
}
