package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/migadu/sieveedit/simulate"
	"github.com/spf13/cobra"
)

var simulateFlags struct {
	from   string
	to     string
	auth   string
	format string
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <script> <message>",
	Short: "Dry-run a script against a message",
	Long: `Execute a script against a sample RFC 5322 message and report the resulting
action. Nothing is delivered and no vacation reply is sent.

Either argument may be "-" for standard input, but not both.

Examples:
  sieveedit simulate filter.sieve message.eml --from boss@example.com --to me@example.com
  sieveedit simulate --format json filter.sieve message.eml`,
	Args: cobra.ExactArgs(2),
	RunE: simulateScript,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simulateFlags.from, "from", "", "envelope sender (MAIL FROM)")
	simulateCmd.Flags().StringVar(&simulateFlags.to, "to", "", "envelope recipient (RCPT TO)")
	simulateCmd.Flags().StringVar(&simulateFlags.auth, "auth", "", "authenticated user name")
	simulateCmd.Flags().StringVar(&simulateFlags.format, "format", "text", "output format: text, json")
}

func simulateScript(cmd *cobra.Command, args []string) error {
	if args[0] == "-" && args[1] == "-" {
		return fmt.Errorf("script and message cannot both be read from standard input")
	}
	text, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	var msg *simulate.Message
	if args[1] == "-" {
		msg, err = simulate.ReadMessage(cmd.InOrStdin())
	} else {
		f, openErr := os.Open(args[1])
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		msg, err = simulate.ReadMessage(f)
	}
	if err != nil {
		return err
	}

	result, err := simulate.Run(cmd.Context(), text, msg, simulate.Options{
		Extensions: cfg.Sieve.SupportedExtensions,
		Envelope: simulate.Envelope{
			From: simulateFlags.from,
			To:   simulateFlags.to,
			Auth: simulateFlags.auth,
		},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if simulateFlags.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "action: %s\n", result.Action)
	switch result.Action {
	case simulate.ActionFileInto:
		fmt.Fprintf(out, "mailbox: %s\n", strings.Join(result.Mailboxes, ", "))
	case simulate.ActionRedirect:
		fmt.Fprintf(out, "redirect: %s\n", strings.Join(result.Redirects, ", "))
	}
	if result.Copy {
		fmt.Fprintln(out, "copy: yes")
	}
	if len(result.Flags) > 0 {
		flags := make([]string, len(result.Flags))
		for i, f := range result.Flags {
			flags[i] = string(f)
		}
		fmt.Fprintf(out, "flags: %s\n", strings.Join(flags, " "))
	}
	if v := result.Vacation; v != nil {
		fmt.Fprintf(out, "vacation: to %s every %d day(s)", v.Recipient, v.Days)
		if v.Subject != "" {
			fmt.Fprintf(out, ", subject %q", v.Subject)
		}
		fmt.Fprintln(out)
	}
	return nil
}
