package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/document"
	"github.com/migadu/sieveedit/editor"
	"github.com/migadu/sieveedit/store"
	"github.com/migadu/sieveedit/store/sqlitestore"
	"github.com/spf13/cobra"
)

var scriptsFlags struct {
	format   string
	activate bool
	show     int64
}

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "Manage stored scripts",
	Long: `Manage the scripts of the configured store ([store] type managesieve, sqlite
or postgres). Scripts are validated and stored in canonical form.`,
}

var scriptsListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List scripts, optionally fuzzy-filtered by name",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listScripts,
}

var scriptsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a script",
	Args:  cobra.ExactArgs(1),
	RunE:  getScript,
}

var scriptsPutCmd = &cobra.Command{
	Use:   "put <name> <file>",
	Short: "Validate and store a script",
	Long: `Validate a script and store it under name. Unchanged scripts are not
written again. Use "-" to read the script from standard input.`,
	Args: cobra.ExactArgs(2),
	RunE: putScript,
}

var scriptsActivateCmd = &cobra.Command{
	Use:   "activate <name>",
	Short: "Make a script the active one",
	Args:  cobra.ExactArgs(1),
	RunE:  activateScript,
}

var scriptsDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Leave no script active",
	Args:  cobra.NoArgs,
	RunE:  deactivateScripts,
}

var scriptsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a script (the active script cannot be deleted)",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteScript,
}

var scriptsRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a script",
	Args:  cobra.ExactArgs(2),
	RunE:  renameScript,
}

var scriptsNegateCmd = &cobra.Command{
	Use:   "negate <name> <path>",
	Short: "Negate a test of a stored script and save it",
	Args:  cobra.ExactArgs(2),
	RunE:  negateStoredTest,
}

var scriptsRevisionsCmd = &cobra.Command{
	Use:   "revisions <name>",
	Short: "List earlier versions of a script (sqlite store only)",
	Args:  cobra.ExactArgs(1),
	RunE:  listRevisions,
}

func init() {
	rootCmd.AddCommand(scriptsCmd)
	scriptsCmd.AddCommand(scriptsListCmd, scriptsGetCmd, scriptsPutCmd, scriptsActivateCmd,
		scriptsDeactivateCmd, scriptsDeleteCmd, scriptsRenameCmd, scriptsNegateCmd, scriptsRevisionsCmd)

	scriptsListCmd.Flags().StringVar(&scriptsFlags.format, "format", "text", "output format: text, json")
	scriptsPutCmd.Flags().BoolVar(&scriptsFlags.activate, "activate", false, "activate the script after storing it")
	scriptsRevisionsCmd.Flags().Int64Var(&scriptsFlags.show, "show", 0, "print the content of this revision id")
}

// withWorkspace opens the store and a workspace over it.
func withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, ws *editor.Workspace) error) error {
	maxSize, err := cfg.Sieve.GetMaxScriptSize()
	if err != nil {
		return err
	}
	return withStore(cmd, func(ctx context.Context, s store.ScriptStore) error {
		ws := editor.New(s, editor.Options{
			Extensions:    cfg.Sieve.SupportedExtensions,
			MaxScriptSize: maxSize,
		})
		if err := ws.Refresh(ctx); err != nil {
			return err
		}
		return fn(ctx, ws)
	})
}

// notFound adds a suggestion to unknown-script errors.
func notFound(ws *editor.Workspace, name string, err error) error {
	if !errors.Is(err, consts.ErrScriptNotFound) {
		return err
	}
	if suggestion := ws.Suggest(name); suggestion != "" && suggestion != name {
		return fmt.Errorf("%w (did you mean %q?)", err, suggestion)
	}
	return err
}

func listScripts(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	return withWorkspace(cmd, func(ctx context.Context, ws *editor.Workspace) error {
		scripts := ws.FindScripts(query)
		out := cmd.OutOrStdout()

		if scriptsFlags.format == "json" {
			if scripts == nil {
				scripts = []store.ScriptInfo{}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(scripts)
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, s := range scripts {
			marker := " "
			if s.Active {
				marker = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\n", marker, s.Name)
		}
		return tw.Flush()
	})
}

func getScript(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *editor.Workspace) error {
		snap, err := ws.Open(ctx, args[0])
		if err != nil {
			return notFound(ws, args[0], err)
		}
		fmt.Fprint(cmd.OutOrStdout(), snap.Source)
		return nil
	})
}

func putScript(cmd *cobra.Command, args []string) error {
	name := args[0]
	text, err := readInput(cmd, args[1])
	if err != nil {
		return err
	}
	return withWorkspace(cmd, func(ctx context.Context, ws *editor.Workspace) error {
		_, err := ws.Open(ctx, name)
		switch {
		case errors.Is(err, consts.ErrScriptNotFound):
			if _, err := ws.NewScriptFrom(ctx, name, text); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if _, err := ws.Edit(name, "replace", func(d *document.Document) error {
				return d.Replace(text)
			}); err != nil {
				return err
			}
		}

		saved, err := ws.Save(ctx, name)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if saved {
			fmt.Fprintf(out, "stored %s\n", name)
		} else {
			fmt.Fprintf(out, "%s unchanged\n", name)
		}
		if scriptsFlags.activate {
			if err := ws.Activate(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(out, "activated %s\n", name)
		}
		return nil
	})
}

func activateScript(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *editor.Workspace) error {
		if err := ws.Activate(ctx, args[0]); err != nil {
			return notFound(ws, args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "activated %s\n", args[0])
		return nil
	})
}

func deactivateScripts(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *editor.Workspace) error {
		previous := ws.ActiveScript()
		if err := ws.Deactivate(ctx); err != nil {
			return err
		}
		if previous == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "no script was active")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", previous)
		}
		return nil
	})
}

func deleteScript(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *editor.Workspace) error {
		if err := ws.Delete(ctx, args[0]); err != nil {
			return notFound(ws, args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	})
}

func renameScript(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *editor.Workspace) error {
		if err := ws.Rename(ctx, args[0], args[1]); err != nil {
			return notFound(ws, args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %s\n", args[0], args[1])
		return nil
	})
}

func negateStoredTest(cmd *cobra.Command, args []string) error {
	name := args[0]
	path, err := document.ParsePath(args[1])
	if err != nil {
		return err
	}
	return withWorkspace(cmd, func(ctx context.Context, ws *editor.Workspace) error {
		if _, err := ws.Open(ctx, name); err != nil {
			return notFound(ws, name, err)
		}
		snap, err := ws.Edit(name, "negate", func(d *document.Document) error {
			return d.Negate(path)
		})
		if err != nil {
			return err
		}
		if _, err := ws.Save(ctx, name); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), snap.Source)
		return nil
	})
}

type revisionLister interface {
	Revisions(ctx context.Context, name string) ([]sqlitestore.Revision, error)
}

func listRevisions(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, s store.ScriptStore) error {
		lister, ok := s.(revisionLister)
		if !ok {
			return fmt.Errorf("the %s store does not keep revisions", cfg.Store.Type)
		}
		revisions, err := lister.Revisions(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if scriptsFlags.show != 0 {
			for _, r := range revisions {
				if r.ID == scriptsFlags.show {
					fmt.Fprint(out, r.Content)
					return nil
				}
			}
			return fmt.Errorf("revision %d of %s not found", scriptsFlags.show, args[0])
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, r := range revisions {
			hash := r.Hash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d bytes\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), hash, len(r.Content))
		}
		return tw.Flush()
	})
}
