package main

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/migadu/sieveedit/script"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var treeFlags struct {
	format string
}

var treeCmd = &cobra.Command{
	Use:   "tree [file]",
	Short: "Print the parse tree of a script",
	Long: `Parse a script and print its command tree as JSON, YAML or CBOR.

CBOR output is binary; redirect it to a file.

Examples:
  sieveedit tree filter.sieve
  sieveedit tree --format yaml filter.sieve
  sieveedit tree --format cbor filter.sieve > filter.cbor`,
	Args: cobra.MaximumNArgs(1),
	RunE: printTree,
}

func init() {
	rootCmd.AddCommand(treeCmd)

	treeCmd.Flags().StringVarP(&treeFlags.format, "format", "f", "json", "output format: json, yaml, cbor")
}

func printTree(cmd *cobra.Command, args []string) error {
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	src, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	s, err := script.Parse(src)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	nodes := script.Tree(s)
	if nodes == nil {
		nodes = []script.Node{}
	}

	out := cmd.OutOrStdout()
	switch treeFlags.format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(nodes)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(nodes); err != nil {
			return err
		}
		return enc.Close()
	case "cbor":
		data, err := cbor.Marshal(nodes)
		if err != nil {
			return fmt.Errorf("failed to encode CBOR: %w", err)
		}
		_, err = out.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format %q", treeFlags.format)
	}
}
