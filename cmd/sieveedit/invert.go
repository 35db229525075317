package main

import (
	"fmt"

	"github.com/migadu/sieveedit/document"
	"github.com/migadu/sieveedit/script"
	"github.com/spf13/cobra"
)

var invertFlags struct {
	file     string
	path     string
	simplify bool
}

var invertCmd = &cobra.Command{
	Use:   "invert [test]",
	Short: "Negate a test",
	Long: `Print the logical negation of a test. Composites are negated with De
Morgan's laws: allof becomes anyof and every child is negated.

With --file and --path the addressed test inside a script is negated and the
whole script is printed. Paths are printed by "sieveedit invert --file F"
without --path.

Examples:
  sieveedit invert 'allof(header :is "from" "boss", not exists "x-spam")'
  sieveedit invert --file filter.sieve
  sieveedit invert --file filter.sieve --path 1/0`,
	Args: cobra.MaximumNArgs(1),
	RunE: invertTest,
}

func init() {
	rootCmd.AddCommand(invertCmd)

	invertCmd.Flags().StringVarP(&invertFlags.file, "file", "f", "", "script containing the test")
	invertCmd.Flags().StringVarP(&invertFlags.path, "path", "p", "", "test path inside the script, e.g. 0 or 1.0/2")
	invertCmd.Flags().BoolVar(&invertFlags.simplify, "simplify", false, "fold constant sub-tests after negating")
}

func invertTest(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if invertFlags.file == "" {
		if len(args) != 1 {
			return fmt.Errorf("a test expression or --file is required")
		}
		t, err := script.ParseTest(args[0])
		if err != nil {
			return err
		}
		inverted := script.Invert(t)
		if invertFlags.simplify {
			inverted = script.Simplify(inverted)
		}
		fmt.Fprintln(out, script.RenderTest(inverted))
		return nil
	}

	if len(args) != 0 {
		return fmt.Errorf("a test expression cannot be combined with --file")
	}
	src, err := readInput(cmd, invertFlags.file)
	if err != nil {
		return err
	}
	doc, err := document.New(invertFlags.file, src)
	if err != nil {
		return fmt.Errorf("%s: %w", invertFlags.file, err)
	}

	if invertFlags.path == "" {
		for _, c := range doc.Conditions() {
			fmt.Fprintf(out, "%-8s %-6s %s\n", c.Path, c.Command, script.RenderTest(c.Test))
		}
		return nil
	}

	path, err := document.ParsePath(invertFlags.path)
	if err != nil {
		return err
	}
	if err := doc.Negate(path); err != nil {
		return err
	}
	if invertFlags.simplify {
		if err := doc.Simplify(path); err != nil {
			return err
		}
	}
	fmt.Fprint(out, doc.Source())
	return nil
}
