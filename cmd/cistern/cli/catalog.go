package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect database metadata",
		Long:  "List schemas, and show the columns and indexes of a table, as the engine's catalog resolves them.",
	}

	cmd.AddCommand(newCatalogSchemasCmd())
	cmd.AddCommand(newCatalogTableCmd())
	cmd.AddCommand(newCatalogIndexesCmd())

	return cmd
}

// catalogCmd runs fn against the catalog of the selected database.
func catalogCmd(use, short string, args cobra.PositionalArgs, fn func(cmd *cobra.Command, s *session, args []string, jsonOutput bool) error) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return fn(cmd, s, args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------- catalog schemas ----------

func newCatalogSchemasCmd() *cobra.Command {
	return catalogCmd("schemas", "List the schemas of a database", cobra.NoArgs,
		func(cmd *cobra.Command, s *session, _ []string, jsonOutput bool) error {
			db, err := s.registry.Database("")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			schemas, err := db.Catalog().Schemas(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), schemas)
			}

			def, _ := db.Catalog().DefaultSchema(ctx)
			for _, name := range schemas {
				marker := " "
				if strings.EqualFold(name, def) {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		})
}

// ---------- catalog table ----------

func newCatalogTableCmd() *cobra.Command {
	return catalogCmd("table <[schema.]table>", "Show the columns of a table", cobra.ExactArgs(1),
		func(cmd *cobra.Command, s *session, args []string, jsonOutput bool) error {
			db, err := s.registry.Database("")
			if err != nil {
				return err
			}
			t, err := db.Catalog().Table(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, t)
			}

			fmt.Fprintf(out, "Table: %s\n\n", t.QualifiedName())
			fmt.Fprintf(out, "%-24s %-20s %-10s %-4s %-8s %s\n", "COLUMN", "DB TYPE", "TYPE", "KEY", "NULLABLE", "REFERENCES")
			for _, c := range t.Columns {
				ref := ""
				if c.Reference != nil {
					ref = c.Reference.Table + "." + c.Reference.Column
				}
				fmt.Fprintf(out, "%-24s %-20s %-10s %-4s %-8s %s\n", c.Name, c.TypeName, c.Type, yesNo(c.PrimaryKey), yesNo(c.Nullable), ref)
			}
			return nil
		})
}

// ---------- catalog indexes ----------

func newCatalogIndexesCmd() *cobra.Command {
	return catalogCmd("indexes <[schema.]table>", "Show the indexes of a table", cobra.ExactArgs(1),
		func(cmd *cobra.Command, s *session, args []string, jsonOutput bool) error {
			db, err := s.registry.Database("")
			if err != nil {
				return err
			}
			indexes, err := db.Catalog().Indexes(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, indexes)
			}
			if len(indexes) == 0 {
				fmt.Fprintln(out, "No indexes.")
				return nil
			}

			fmt.Fprintf(out, "%-32s %-6s %-9s %s\n", "INDEX", "UNIQUE", "CLUSTERED", "COLUMNS")
			for _, ix := range indexes {
				cols := make([]string, len(ix.Columns))
				for i, c := range ix.Columns {
					cols[i] = c.Name
					if !c.Ascending {
						cols[i] += " desc"
					}
				}
				fmt.Fprintf(out, "%-32s %-6s %-9s %s\n", ix.Name, yesNo(ix.Unique), yesNo(ix.Clustered), strings.Join(cols, ", "))
			}
			return nil
		})
}
