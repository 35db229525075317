package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/migadu/sieveedit/document"
	"github.com/migadu/sieveedit/managesieve"
	"github.com/migadu/sieveedit/script"
	"github.com/spf13/cobra"
)

var checkFlags struct {
	remote bool
	format string
}

var checkCmd = &cobra.Command{
	Use:   "check [file...]",
	Short: "Validate scripts",
	Long: `Parse scripts and load them with the Sieve interpreter, allowing only the
extensions listed in [sieve] supported_extensions.

With --remote the script is also sent to the configured ManageSieve server
with CHECKSCRIPT.

Examples:
  sieveedit check filter.sieve
  sieveedit check --format json *.sieve
  sieveedit check --remote --config sieveedit.toml filter.sieve`,
	RunE: checkScripts,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkFlags.remote, "remote", false, "also check with the ManageSieve server")
	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json")
}

// CheckResult is the outcome for one file.
type CheckResult struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Requires []string `json:"requires,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func checkScripts(cmd *cobra.Command, args []string) error {
	if checkFlags.format != "text" && checkFlags.format != "json" {
		return fmt.Errorf("unknown format %q", checkFlags.format)
	}
	if len(args) == 0 {
		args = []string{"-"}
	}

	var client *managesieve.Client
	if checkFlags.remote {
		opts, err := managesieve.OptionsFromConfig(cfg.ManageSieve)
		if err != nil {
			return err
		}
		client, err = managesieve.Dial(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", opts.Addr, err)
		}
		defer client.Close()
	}

	results := make([]CheckResult, 0, len(args))
	failed := 0
	for _, path := range args {
		result := checkScript(cmd, path, client)
		if !result.Valid {
			failed++
		}
		results = append(results, result)
	}

	out := cmd.OutOrStdout()
	if checkFlags.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Fprintf(out, "%s: ok\n", r.File)
				continue
			}
			if r.Line > 0 {
				fmt.Fprintf(out, "%s:%d:%d: %s\n", r.File, r.Line, r.Column, r.Error)
			} else {
				fmt.Fprintf(out, "%s: %s\n", r.File, r.Error)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d script(s) invalid", failed, len(results))
	}
	return nil
}

func checkScript(cmd *cobra.Command, path string, client *managesieve.Client) CheckResult {
	result := CheckResult{File: path}
	src, err := readInput(cmd, path)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	doc, err := document.New(path, src)
	if err != nil {
		result.Error = err.Error()
		var lexErr *script.LexError
		var parseErr *script.ParseError
		switch {
		case errors.As(err, &lexErr):
			result.Line, result.Column, result.Error = lexErr.Pos.Line, lexErr.Pos.Column, lexErr.Reason
		case errors.As(err, &parseErr):
			result.Line, result.Column = parseErr.Pos.Line, parseErr.Pos.Column
			result.Error = fmt.Sprintf("expected %s, found %s", parseErr.Expected, parseErr.Found)
		}
		return result
	}
	result.Requires = doc.RequiredExtensions()

	if err := doc.Validate(cfg.Sieve.SupportedExtensions); err != nil {
		result.Error = err.Error()
		return result
	}
	if client != nil {
		if err := client.CheckScript(cmd.Context(), doc.Source()); err != nil {
			result.Error = "server: " + err.Error()
			return result
		}
	}
	result.Valid = true
	return result
}
