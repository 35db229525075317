package main

import (
	"fmt"
	"os"

	"github.com/migadu/sieveedit/script"
	"github.com/spf13/cobra"
)

var fmtFlags struct {
	write bool
	list  bool
}

var fmtCmd = &cobra.Command{
	Use:   "fmt [file...]",
	Short: "Rewrite scripts in canonical form",
	Long: `Parse scripts and print them in canonical form: lower-case identifiers,
four-space indentation, one command per line. Comments are not preserved.

With no arguments, or with "-", the script is read from standard input.

Examples:
  # Print the formatted script
  sieveedit fmt filter.sieve

  # Rewrite files in place
  sieveedit fmt -w *.sieve

  # List files that are not formatted (exit status 1 if any)
  sieveedit fmt -l *.sieve`,
	RunE: formatScripts,
}

func init() {
	rootCmd.AddCommand(fmtCmd)

	fmtCmd.Flags().BoolVarP(&fmtFlags.write, "write", "w", false, "write the result to the source file")
	fmtCmd.Flags().BoolVarP(&fmtFlags.list, "list", "l", false, "list files whose formatting differs")
}

func formatScripts(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		args = []string{"-"}
	}
	out := cmd.OutOrStdout()

	unformatted := 0
	for _, path := range args {
		src, err := readInput(cmd, path)
		if err != nil {
			return err
		}
		s, err := script.Parse(src)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		formatted := script.Render(s)

		switch {
		case fmtFlags.list:
			if formatted != src {
				unformatted++
				fmt.Fprintln(out, path)
			}
		case fmtFlags.write && path != "-":
			if formatted == src {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(formatted), info.Mode().Perm()); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
		default:
			fmt.Fprint(out, formatted)
		}
	}

	if unformatted > 0 {
		return fmt.Errorf("%d file(s) not formatted", unformatted)
	}
	return nil
}
