package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/migadu/sieveedit/pkg/watch"
	"github.com/migadu/sieveedit/script"
	"github.com/spf13/cobra"
)

var watchFlags struct {
	debounce time.Duration
	format   bool
}

var watchCmd = &cobra.Command{
	Use:   "watch <file-or-directory>",
	Short: "Re-check scripts whenever they change",
	Long: `Watch a script file, or every .sieve/.siv file in a directory, and check
each script again when it is saved.

Examples:
  sieveedit watch filter.sieve
  sieveedit watch --fmt scripts/`,
	Args: cobra.ExactArgs(1),
	RunE: watchScripts,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchFlags.debounce, "debounce", 200*time.Millisecond, "quiet period before re-checking")
	watchCmd.Flags().BoolVar(&watchFlags.format, "fmt", false, "rewrite valid scripts in canonical form")
}

func watchScripts(cmd *cobra.Command, args []string) error {
	w, err := watch.New(watch.Config{Path: args[0], Debounce: watchFlags.debounce})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "watching %s\n", args[0])
	var mu sync.Mutex
	return w.Watch(ctx, func(path string) {
		mu.Lock()
		defer mu.Unlock()
		result := checkScript(cmd, path, nil)
		stamp := time.Now().Format("15:04:05")
		if !result.Valid {
			if result.Line > 0 {
				fmt.Fprintf(out, "%s %s:%d:%d: %s\n", stamp, path, result.Line, result.Column, result.Error)
			} else {
				fmt.Fprintf(out, "%s %s: %s\n", stamp, path, result.Error)
			}
			return
		}
		fmt.Fprintf(out, "%s %s: ok\n", stamp, path)
		if watchFlags.format {
			if err := rewriteCanonical(path); err != nil {
				fmt.Fprintf(out, "%s %s: %v\n", stamp, path, err)
			}
		}
	})
}

// rewriteCanonical formats path in place when it is not formatted yet.
func rewriteCanonical(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := script.Parse(string(data))
	if err != nil {
		return err
	}
	formatted := script.Render(s)
	if formatted == string(data) {
		return nil
	}
	return os.WriteFile(path, []byte(formatted), info.Mode().Perm())
}
