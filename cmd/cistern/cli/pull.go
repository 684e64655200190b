package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/cistern/internal/dataflow"
	"github.com/faucetdb/cistern/internal/entity"
)

func newPullCmd() *cobra.Command {
	var (
		params []string
		pages  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "pull <entity>",
		Short: "Read the rows of an entity",
		Long: `Read the rows of an entity. Paged entities are read page by page; --pages
limits how many pages are fetched (0 reads to the end).

Rows are printed as a table when stdout is a terminal and as JSON lines otherwise.`,
		Example: `  cistern pull pets
  cistern pull pets_by_owner -p owner=7 --pages 2
  cistern pull main.pets --format json | jq .name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd, args[0], params, pages, format)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Parameter as name=value (repeatable)")
	cmd.Flags().IntVar(&pages, "pages", 0, "Maximum number of pages to read (0 = all)")
	cmd.Flags().StringVar(&format, "format", "", "Output format: table or json (default depends on the terminal)")

	return cmd
}

func runPull(cmd *cobra.Command, name string, rawParams []string, maxPages int, format string) error {
	out := cmd.OutOrStdout()
	width, tty := terminalWidth(out)
	if format == "" {
		format = "json"
		if tty {
			format = "table"
		}
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q (want table or json)", format)
	}

	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.registry.LoadEntity(ctx, name)
	if err != nil {
		return err
	}
	params, err := parseParams(e, rawParams)
	if err != nil {
		return err
	}
	p, err := s.registry.Provider(e)
	if err != nil {
		return err
	}
	defer p.Close()

	var buffered []dataflow.Row
	w := bufio.NewWriter(out)
	defer w.Flush()
	emit := func(rows []dataflow.Row) error {
		if format == "table" {
			buffered = append(buffered, rows...)
			return nil
		}
		return writeRows(w, rows)
	}

	rows, err := p.Pull(ctx, params).Await(ctx)
	if err != nil {
		return err
	}
	if err := emit(rows); err != nil {
		return err
	}
	for read := 1; p.Paging() && (maxPages <= 0 || read < maxPages); read++ {
		rows, err := p.NextPage(ctx).Await(ctx)
		if err != nil {
			return err
		}
		if err := emit(rows); err != nil {
			return err
		}
	}

	if format == "table" {
		renderTable(w, e, buffered, width)
	}
	for _, param := range p.Parameters() {
		if param.Mode.Returns() {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s = %s\n", param.Name, param.Value)
		}
	}
	if p.Paging() {
		fmt.Fprintln(cmd.ErrOrStderr(), "(more rows available; raise --pages to read them)")
	}
	return nil
}

// parseParams binds name=value arguments onto fresh clones of the entity's
// parameters. Values are parsed as the parameter's type.
func parseParams(e *entity.Entity, raw []string) ([]*entity.Parameter, error) {
	params := e.NewParameters()
	byName := make(map[string]*entity.Parameter, len(params))
	for _, p := range params {
		byName[strings.ToLower(p.Name)] = p
	}
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("parameter %q: want name=value", kv)
		}
		p, found := byName[strings.ToLower(strings.TrimSpace(name))]
		if !found {
			return nil, fmt.Errorf("%s has no parameter %q", e.Name(), name)
		}
		if err := p.Set(value); err != nil {
			return nil, err
		}
	}
	return params, nil
}

// terminalWidth reports whether w is a terminal and, if so, its width.
func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, true
	}
	return width, true
}

func writeRows(w io.Writer, rows []dataflow.Row) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

const minColumnWidth = 6

// renderTable prints rows under the entity's field names. When width is
// positive, columns are narrowed so a line fits in it.
func renderTable(w io.Writer, e *entity.Entity, rows []dataflow.Row, width int) {
	var names []string
	if len(rows) > 0 {
		names = rows[0].Names()
	} else {
		for _, f := range e.Fields() {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		return
	}

	cells := make([][]string, len(rows))
	widths := make([]int, len(names))
	for i, n := range names {
		widths[i] = utf8.RuneCountInString(n)
	}
	for r, row := range rows {
		vals := row.Values()
		cells[r] = make([]string, len(names))
		for i := range names {
			if i < len(vals) {
				cells[r][i] = strings.ReplaceAll(vals[i].String(), "\n", " ")
			}
			widths[i] = max(widths[i], utf8.RuneCountInString(cells[r][i]))
		}
	}
	fitWidths(widths, width)

	line := func(vals []string) {
		for i, v := range vals {
			if i > 0 {
				io.WriteString(w, "  ")
			}
			v = truncate(v, widths[i])
			if i == len(vals)-1 {
				io.WriteString(w, v)
				continue
			}
			fmt.Fprintf(w, "%-*s", widths[i], v)
		}
		io.WriteString(w, "\n")
	}

	line(names)
	rule := make([]string, len(names))
	for i := range rule {
		rule[i] = strings.Repeat("-", widths[i])
	}
	line(rule)
	for _, c := range cells {
		line(c)
	}
	fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

// fitWidths shrinks the widest columns until the line, with two-space
// gutters, fits in total. No column goes below minColumnWidth.
func fitWidths(widths []int, total int) {
	if total <= 0 {
		return
	}
	budget := total - 2*(len(widths)-1)
	for {
		sum, widest := 0, 0
		for i, wd := range widths {
			sum += wd
			if wd > widths[widest] {
				widest = i
			}
		}
		if sum <= budget || widths[widest] <= minColumnWidth {
			return
		}
		widths[widest]--
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
