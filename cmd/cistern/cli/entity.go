package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/cistern/internal/drift"
	"github.com/faucetdb/cistern/internal/entity"
	"github.com/faucetdb/cistern/internal/generic"
	"github.com/faucetdb/cistern/internal/model"
)

func newEntityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Manage entity definitions",
		Long: `Save, list, show and delete entity definitions.

Entities are read from <name>.sql files (with an optional .yaml, .yml or .json
sidecar) in the entities directory first, then from the definitions saved in
the cistern store, then from the tables of the default database.`,
	}

	cmd.AddCommand(newEntitySaveCmd())
	cmd.AddCommand(newEntityListCmd())
	cmd.AddCommand(newEntityShowCmd())
	cmd.AddCommand(newEntityDeleteCmd())
	cmd.AddCommand(newEntityCheckCmd())

	return cmd
}

// ---------- entity save ----------

func newEntitySaveCmd() *cobra.Command {
	var sqlPath, sidecarPath string

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save an entity definition to the store",
		Example: `  cistern entity save pets --sql pets.sql --sidecar pets.yaml
  cistern entity save owners --sql owners.sql`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntitySave(cmd, args[0], sqlPath, sidecarPath)
		},
	}

	cmd.Flags().StringVar(&sqlPath, "sql", "", "File holding the entity clause")
	cmd.Flags().StringVar(&sidecarPath, "sidecar", "", "YAML or JSON sidecar (default: next to the clause file)")
	cmd.MarkFlagRequired("sql")

	return cmd
}

func runEntitySave(cmd *cobra.Command, name, sqlPath, sidecarPath string) error {
	clause, err := os.ReadFile(sqlPath)
	if err != nil {
		return fmt.Errorf("read clause: %w", err)
	}
	if sidecarPath == "" {
		sidecarPath = findSidecar(sqlPath)
	}
	var side []byte
	if sidecarPath != "" {
		if side, err = os.ReadFile(sidecarPath); err != nil {
			return fmt.Errorf("read sidecar: %w", err)
		}
	}

	// Reject definitions that would fail to load later.
	spec, err := entity.ParseSpec(name, strings.TrimSpace(string(clause)), side)
	if err != nil {
		return err
	}
	def, err := spec.Definition(cmd.Context(), nil)
	if err != nil {
		return err
	}
	if _, err := entity.New(def); err != nil {
		return err
	}

	store, err := openConfigStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stored := &model.StoredEntity{Name: name, Clause: string(clause), Sidecar: string(side)}
	if err := store.SaveEntity(cmd.Context(), stored); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved entity %q (version %d)\n", stored.Name, stored.Version)
	return nil
}

func findSidecar(sqlPath string) string {
	base := strings.TrimSuffix(sqlPath, filepath.Ext(sqlPath))
	for _, ext := range entity.SidecarExtensions {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}

// ---------- entity list ----------

func newEntityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List entity definitions from the entities directory and the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityList(cmd)
		},
	}
}

func runEntityList(cmd *cobra.Command) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := openConfigStore()
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-24s %-8s %-10s\n", "NAME", "ORIGIN", "VERSION")
	fmt.Fprintf(out, "%-24s %-8s %-10s\n", "----", "------", "-------")

	files, err := entity.NewFiles(cfg.Entities.Dir, nil, nil).Names()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, name := range files {
		fmt.Fprintf(out, "%-24s %-8s %-10s\n", name, "file", "-")
	}

	stored, err := store.ListEntities(cmd.Context())
	if err != nil {
		return err
	}
	for _, e := range stored {
		fmt.Fprintf(out, "%-24s %-8s %-10d\n", e.Name, "store", e.Version)
	}
	return nil
}

// ---------- entity show ----------

func newEntityShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Load an entity and print its fields and parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityShow(cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type paramView struct {
	Name  string        `json:"name"`
	Mode  string        `json:"mode"`
	Type  generic.Type  `json:"type"`
	Value generic.Value `json:"value"`
}

type entityView struct {
	Name     string         `json:"name"`
	Source   string         `json:"source,omitempty"`
	Clause   string         `json:"sql"`
	PageSize int            `json:"page_size,omitempty"`
	ReadOnly bool           `json:"readonly"`
	Command  bool           `json:"command"`
	Writable []string       `json:"writable,omitempty"`
	Fields   []entity.Field `json:"fields"`
	Params   []paramView    `json:"params,omitempty"`
}

func runEntityShow(cmd *cobra.Command, name string, jsonOutput bool) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.registry.LoadEntity(cmd.Context(), name)
	if err != nil {
		return err
	}

	view := entityView{
		Name:     e.Name(),
		Source:   e.Source(),
		Clause:   e.Clause(),
		PageSize: e.PageSize(),
		ReadOnly: e.ReadOnly(),
		Command:  e.Command(),
		Writable: e.Writable(),
		Fields:   e.Fields(),
	}
	for _, p := range e.NewParameters() {
		view.Params = append(view.Params, paramView{Name: p.Name, Mode: p.Mode.String(), Type: p.Type, Value: p.Value})
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(out, "Entity:   %s\n", view.Name)
	if view.Source != "" {
		fmt.Fprintf(out, "Source:   %s\n", view.Source)
	}
	fmt.Fprintf(out, "SQL:      %s\n", view.Clause)
	if view.PageSize > 0 {
		fmt.Fprintf(out, "Page:     %d rows\n", view.PageSize)
	}
	if len(view.Writable) > 0 {
		fmt.Fprintf(out, "Writable: %s\n", strings.Join(view.Writable, ", "))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-24s %-10s %-24s %-4s %-8s\n", "FIELD", "TYPE", "TABLE", "KEY", "NULLABLE")
	for _, f := range view.Fields {
		fmt.Fprintf(out, "%-24s %-10s %-24s %-4s %-8s\n", f.Name, f.Type, f.Table, yesNo(f.PrimaryKey), yesNo(f.Nullable))
	}
	if len(view.Params) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%-24s %-8s %-10s %s\n", "PARAM", "MODE", "TYPE", "DEFAULT")
		for _, p := range view.Params {
			fmt.Fprintf(out, "%-24s %-8s %-10s %s\n", p.Name, p.Mode, p.Type, p.Value)
		}
	}
	return nil
}

// ---------- entity delete ----------

func newEntityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete an entity definition from the store",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteEntity(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete entity %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted entity %q\n", args[0])
			return nil
		},
	}
}

// ---------- entity check ----------

func newEntityCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check [name...]",
		Short: "Compare entity fields with the live tables they name",
		Long: `Compare the declared fields of entities with the columns their tables have now.
Without names, every entity in the entities directory and the store is checked.
The command fails when a breaking difference is found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityCheck(cmd, args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runEntityCheck(cmd *cobra.Command, names []string, jsonOutput bool) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(names) == 0 {
		if names, err = s.definedEntities(cmd); err != nil {
			return err
		}
	}

	summary, err := drift.CheckAll(ctx, s.registry, s.registry.Tables, names)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeJSON(out, summary); err != nil {
			return err
		}
	} else {
		for _, r := range summary.Reports {
			status := "ok"
			switch {
			case r.HasBreaking:
				status = "BREAKING"
			case r.HasDrift:
				status = "drift"
			}
			fmt.Fprintf(out, "%-24s %s\n", r.Entity, status)
			for _, item := range r.Items {
				fmt.Fprintf(out, "  [%s] %s\n", item.Severity, item.Description)
			}
		}
		fmt.Fprintf(out, "\n%d checked, %d drifted, %d breaking differences\n", summary.Entities, summary.Drifted, summary.BreakingCount)
	}

	if summary.BreakingCount > 0 {
		return fmt.Errorf("%d breaking differences found", summary.BreakingCount)
	}
	return nil
}

// definedEntities lists the entity names in the entities directory and the
// store, without duplicates.
func (s *session) definedEntities(cmd *cobra.Command) ([]string, error) {
	files, err := entity.NewFiles(s.cfg.Entities.Dir, nil, nil).Names()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	stored, err := s.store.ListEntities(cmd.Context())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	for _, n := range files {
		seen[strings.ToLower(n)] = true
		names = append(names, n)
	}
	for _, e := range stored {
		if !seen[strings.ToLower(e.Name)] {
			names = append(names, e.Name)
		}
	}
	return names, nil
}
