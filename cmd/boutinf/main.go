// Package main provides the boutinf CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/boutinf/pkg/config"
	"github.com/orneryd/boutinf/pkg/infinity"
	"github.com/orneryd/boutinf/pkg/logging"
	"github.com/orneryd/boutinf/pkg/message"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "boutinf",
		Short: "boutinf - message index and query engine for bouts",
		Long: `boutinf indexes a stream of bout messages and answers
s-expression queries over them, newest first:

  (and (talks-with 'urn:test:jeff') (limit 10))
  (ns 'urn:test:invoice')
  (matches 'quarterly report' $text)`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "boutinf v%s (%s)\n", version, commit)
		},
	})

	ingestCmd := &cobra.Command{
		Use:   "ingest [file.jsonl]",
		Short: "Index messages from a JSON lines file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	ingestCmd.Flags().Duration("timeout", 0, "Give up waiting for the queue after this long (0 = never)")
	rootCmd.AddCommand(ingestCmd)

	queryCmd := &cobra.Command{
		Use:   "query [expression]",
		Short: "Evaluate a query and print matching message ids",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().Uint64("since", 0, "Only ids older than this one (0 = newest)")
	queryCmd.Flags().Int("limit", 0, "Page size (0 = configured default)")
	queryCmd.Flags().Bool("bouts", false, "Print distinct bouts instead of messages")
	queryCmd.Flags().Bool("json", false, "Print the page as JSON")
	rootCmd.AddCommand(queryCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE:  runStats,
	}
	statsCmd.Flags().Bool("json", false, "Print counters as JSON")
	rootCmd.AddCommand(statsCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Write a snapshot of the index",
		RunE:  runFlush,
	})

	return rootCmd
}

// openEngine loads configuration, applies flag overrides and opens the
// engine.
func openEngine(cmd *cobra.Command) (*infinity.Infinity, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	cfg.Memory.ApplyRuntimeMemory()

	w, err := logOutput(cfg.Logging.Output)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format, w)
	return infinity.Open(cfg, log)
}

func logOutput(out string) (io.Writer, error) {
	switch strings.ToLower(out) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}
	return f, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIngest(cmd *cobra.Command, args []string) (err error) {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	in := io.Reader(os.Stdin)
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	inf, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := inf.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	dec := message.NewDecoder(in)
	n := 0
	for {
		msg, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := inf.See(ctx, msg); err != nil {
			return err
		}
		n++
	}

	drainCtx := ctx
	if timeout > 0 {
		var stop context.CancelFunc
		drainCtx, stop = context.WithTimeout(ctx, timeout)
		defer stop()
	}
	if err := inf.Drain(drainCtx); err != nil {
		return err
	}
	s := inf.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d messages in %v (%d motor failures)\n",
		n, time.Since(start).Round(time.Millisecond), s.MotorFailures)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) (err error) {
	since, _ := cmd.Flags().GetUint64("since")
	limit, _ := cmd.Flags().GetInt("limit")
	bouts, _ := cmd.Flags().GetBool("bouts")
	asJSON, _ := cmd.Flags().GetBool("json")

	inf, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := inf.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	out := cmd.OutOrStdout()
	if bouts {
		ids, err := inf.Bouts(ctx, args[0], limit)
		if err != nil {
			return err
		}
		if asJSON {
			return json.NewEncoder(out).Encode(ids)
		}
		printIDs(out, ids)
		return nil
	}

	page, err := inf.Messages(ctx, args[0], since, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return json.NewEncoder(out).Encode(page)
	}
	printIDs(out, page.IDs)
	if page.Next != 0 {
		fmt.Fprintf(out, "next: --since %d\n", page.Next)
	}
	return nil
}

func printIDs(w io.Writer, ids []uint64) {
	if len(ids) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

func runStats(cmd *cobra.Command, args []string) (err error) {
	asJSON, _ := cmd.Flags().GetBool("json")
	inf, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := inf.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(inf.Stats())
	}
	fmt.Fprint(cmd.OutOrStdout(), inf.Statistics())
	return nil
}

func runFlush(cmd *cobra.Command, args []string) (err error) {
	inf, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := inf.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()
	if err := inf.Flush(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "flushed: %s\n", inf.Stats().Ray.Snapshot)
	return nil
}
