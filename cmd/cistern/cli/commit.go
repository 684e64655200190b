package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/cistern/internal/changes"
	"github.com/faucetdb/cistern/internal/commit"
)

func newCommitCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "commit [file]",
		Short: "Apply a batch of changes",
		Long: `Apply a batch of changes read from a JSON file (or stdin when the file is
omitted or "-"). The batch is an array of actions:

  [
    {"action": "add",     "entity": "pets", "data": {"id": 1, "name": "Rex"}},
    {"action": "change",  "entity": "pets", "keys": {"id": 1}, "data": {"name": "Max"}},
    {"action": "remove",  "entity": "pets", "keys": {"id": 2}},
    {"action": "command", "entity": "archive_pets", "args": {"before": "2024-01-01T00:00:00.000Z"}}
  ]

Statements that fail are retried after the others; the batch is rolled back
only when a pass makes no progress.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runCommit(cmd, path, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the bound statements without executing them")

	return cmd
}

func runCommit(cmd *cobra.Command, path string, dryRun bool) error {
	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	actions, err := decodeActions(in)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to commit.")
		return nil
	}

	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	batches, err := s.registry.Bind(ctx, actions)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if dryRun {
		for _, b := range batches {
			fmt.Fprintf(out, "-- %s\n", b.Database)
			for _, st := range b.Statements {
				fmt.Fprintln(out, st)
			}
		}
		return nil
	}

	affected, err := s.registry.Commit(ctx, batches).Await(ctx)
	if err != nil {
		var ce *commit.Error
		if errors.As(err, &ce) {
			return fmt.Errorf("commit rolled back after %d passes:\n%w", ce.Passes, err)
		}
		return err
	}
	fmt.Fprintf(out, "Committed %d actions, %d rows affected.\n", len(actions), affected)
	return nil
}

// actionJSON is one element of a commit batch file.
type actionJSON struct {
	Action string         `json:"action"`
	Entity string         `json:"entity"`
	Data   changes.Values `json:"data"`
	Keys   changes.Values `json:"keys"`
	Args   changes.Values `json:"args"`
}

// decodeActions reads a JSON array of actions. Numbers are kept as
// json.Number so large integers reach the binder intact.
func decodeActions(r io.Reader) ([]changes.Action, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var raw []actionJSON
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}

	actions := make([]changes.Action, 0, len(raw))
	for i, a := range raw {
		if a.Entity == "" {
			return nil, fmt.Errorf("action %d: missing entity", i)
		}
		switch strings.ToLower(a.Action) {
		case "add", "insert":
			actions = append(actions, changes.NewAdd(a.Entity, a.Data))
		case "change", "update":
			actions = append(actions, changes.NewChange(a.Entity, a.Keys, a.Data))
		case "remove", "delete":
			actions = append(actions, changes.NewRemove(a.Entity, a.Keys))
		case "command":
			actions = append(actions, changes.NewCommand(a.Entity, a.Args))
		default:
			return nil, fmt.Errorf("action %d: %w: %q", i, changes.ErrUnknownAction, a.Action)
		}
	}
	return actions, nil
}
