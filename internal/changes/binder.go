package changes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/faucetdb/cistern/internal/dialect"
	"github.com/faucetdb/cistern/internal/entity"
)

// Binder generates statements for actions in one dialect.
type Binder struct {
	dialect dialect.Dialect
	encoder ValueEncoder
	logger  *slog.Logger
}

// NewBinder creates a binder for d. A nil logger uses slog.Default().
func NewBinder(d dialect.Dialect, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{dialect: d, encoder: EncoderFor(d), logger: logger}
}

// Bind generates the statements for one action against e.
//
// Data and key entries are grouped by the table of their field. Within a
// table, columns follow field declaration order and tables follow their
// first appearance. Callers must not rely on the order of statements
// generated for different tables of one action. Tables e is not writable
// through are skipped, as are Change tables lacking either data or keys.
func (b *Binder) Bind(e *entity.Entity, a Action) ([]*Statement, error) {
	return b.bind(e, a, uuid.New())
}

// BindAll loads the entity of every action from loader and binds them in
// order. All statements share one batch id.
func (b *Binder) BindAll(ctx context.Context, loader entity.Loader, actions []Action) ([]*Statement, error) {
	batch := uuid.New()
	var out []*Statement
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := loader.LoadEntity(ctx, a.EntityName())
		if err != nil {
			return nil, fmt.Errorf("action %d (%s %s): %w", i, Kind(a), a.EntityName(), err)
		}
		stmts, err := b.bind(e, a, batch)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s %s): %w", i, Kind(a), a.EntityName(), err)
		}
		out = append(out, stmts...)
	}
	b.logger.Debug("changes: bound actions", "actions", len(actions), "statements", len(out), "batch", batch)
	return out, nil
}

func (b *Binder) bind(e *entity.Entity, a Action, batch uuid.UUID) ([]*Statement, error) {
	var (
		stmts []*Statement
		err   error
	)
	switch a := a.(type) {
	case Add:
		stmts, err = b.bindAdd(e, a)
	case Change:
		stmts, err = b.bindChange(e, a)
	case Remove:
		stmts, err = b.bindRemove(e, a)
	case Command:
		stmts, err = b.bindCommand(e, a)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}
	if err != nil {
		return nil, err
	}
	for _, s := range stmts {
		s.Encoder = b.encoder
		s.Entity = e.Name()
		s.Batch = batch
	}
	return stmts, nil
}

func (b *Binder) bindAdd(e *entity.Entity, a Add) ([]*Statement, error) {
	if e.ReadOnly() {
		return nil, fmt.Errorf("%s: %w", e.Name(), ErrReadOnly)
	}
	groups, err := groupByTable(e, a.Data)
	if err != nil {
		return nil, err
	}

	var out []*Statement
	for _, g := range groups {
		if !e.IsWritableThrough(g.table) {
			continue
		}
		var st stmtBuilder
		cols := make([]string, len(g.entries))
		marks := make([]string, len(g.entries))
		for i, en := range g.entries {
			cols[i] = en.field.Column()
			marks[i] = st.bind(b.dialect, en)
		}
		st.sql = fmt.Sprintf("insert into %s (%s) values (%s)",
			g.table, strings.Join(cols, ", "), strings.Join(marks, ", "))
		out = append(out, st.statement())
	}
	return out, nil
}

func (b *Binder) bindChange(e *entity.Entity, a Change) ([]*Statement, error) {
	if e.ReadOnly() {
		return nil, fmt.Errorf("%s: %w", e.Name(), ErrReadOnly)
	}
	keys, err := groupByTable(e, a.Keys)
	if err != nil {
		return nil, err
	}
	data, err := groupByTable(e, a.Data)
	if err != nil {
		return nil, err
	}
	keysByTable := make(map[string]group, len(keys))
	for _, g := range keys {
		keysByTable[strings.ToLower(g.table)] = g
	}

	var out []*Statement
	for _, g := range data {
		k, ok := keysByTable[strings.ToLower(g.table)]
		if !ok || !e.IsWritableThrough(g.table) {
			continue
		}
		var st stmtBuilder
		sets := make([]string, len(g.entries))
		for i, en := range g.entries {
			sets[i] = en.field.Column() + " = " + st.bind(b.dialect, en)
		}
		st.sql = fmt.Sprintf("update %s set %s where %s",
			g.table, strings.Join(sets, ", "), st.where(b.dialect, k))
		out = append(out, st.statement())
	}
	return out, nil
}

func (b *Binder) bindRemove(e *entity.Entity, a Remove) ([]*Statement, error) {
	if e.ReadOnly() {
		return nil, fmt.Errorf("%s: %w", e.Name(), ErrReadOnly)
	}
	keys, err := groupByTable(e, a.Keys)
	if err != nil {
		return nil, err
	}

	var out []*Statement
	for _, g := range keys {
		if !e.IsWritableThrough(g.table) {
			continue
		}
		var st stmtBuilder
		st.sql = fmt.Sprintf("delete from %s where %s", g.table, st.where(b.dialect, g))
		out = append(out, st.statement())
	}
	return out, nil
}

// bindCommand binds the entity clause. Arguments override the parameters
// they name; the others keep their declared defaults. Procedures given by
// bare name use the dialect's call syntax.
func (b *Binder) bindCommand(e *entity.Entity, a Command) ([]*Statement, error) {
	if e.ReadOnly() {
		return nil, fmt.Errorf("%s: %w", e.Name(), ErrReadOnly)
	}
	args, err := lowerKeys(e, a.Args)
	if err != nil {
		return nil, err
	}
	params := e.NewParameters()
	for _, p := range params {
		v, ok := args[strings.ToLower(p.Name)]
		if !ok {
			continue
		}
		if err := p.Set(v); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		delete(args, strings.ToLower(p.Name))
	}
	for name := range args {
		b.logger.Debug("changes: ignoring unknown command argument", "entity", e.Name(), "argument", name)
	}

	var (
		phErr    error
		consumed = make(map[int]bool)
	)
	q, bound, err := e.CompileCall(params, func(name string, refs []string) string {
		procs := b.dialect.Procedures()
		if procs == nil {
			phErr = fmt.Errorf("%s: %w", b.dialect.Name(), dialect.ErrNoProcedures)
			return ""
		}
		return procs.CallSQL(name, refs)
	}, func(i int, p *entity.Parameter) string {
		ph, consumes, err := dialect.ArgPlaceholder(b.dialect, i, p.Type, p.Mode.Returns())
		if err != nil && phErr == nil {
			phErr = err
		}
		consumed[i-1] = consumes
		return ph
	})
	if err == nil {
		err = phErr
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name(), err)
	}

	// Output parameters of a command are sent but never read back.
	stmtParams := make([]*entity.Parameter, 0, len(bound))
	for i, p := range bound {
		if consumed[i] {
			stmtParams = append(stmtParams, p)
		}
	}
	return []*Statement{{SQL: q.SQL, Params: stmtParams}}, nil
}

type entry struct {
	field entity.Field
	param *entity.Parameter
}

type group struct {
	table   string
	entries []entry
}

// groupByTable resolves values against the fields of e and groups them by
// table. Entries follow field declaration order; groups follow the first
// field of each table.
func groupByTable(e *entity.Entity, values Values) ([]group, error) {
	lowered, err := lowerKeys(e, values)
	if err != nil {
		return nil, err
	}

	var missing []string
	for name := range values {
		if _, ok := e.Field(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s has no field %s", ErrEntityFieldMissing, e.Name(), strings.Join(missing, ", "))
	}

	var groups []group
	index := make(map[string]int)
	for _, f := range e.Fields() {
		v, ok := lowered[strings.ToLower(f.Name)]
		if !ok {
			continue
		}
		if f.Table == "" {
			return nil, fmt.Errorf("%w: %s.%s", ErrNoSourceTable, e.Name(), f.Name)
		}
		p := &entity.Parameter{Name: f.Name, Mode: entity.ModeIn, Type: f.Type}
		if err := p.Set(v); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}

		key := strings.ToLower(f.Table)
		i, seen := index[key]
		if !seen {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{table: f.Table})
		}
		groups[i].entries = append(groups[i].entries, entry{field: f, param: p})
	}
	return groups, nil
}

// lowerKeys folds the names of values to lower case. Names that differ
// only by case are rejected, since either value could win.
func lowerKeys(e *entity.Entity, values Values) (map[string]any, error) {
	out := make(map[string]any, len(values))
	seen := make(map[string]string, len(values))
	var dups []string
	for k, v := range values {
		lk := strings.ToLower(k)
		if other, ok := seen[lk]; ok {
			a, b := other, k
			if b < a {
				a, b = b, a
			}
			dups = append(dups, a+"/"+b)
			continue
		}
		seen[lk] = k
		out[lk] = v
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return nil, fmt.Errorf("%w: %s given as %s", ErrDuplicateName, e.Name(), strings.Join(dups, ", "))
	}
	return out, nil
}

// stmtBuilder numbers placeholders and collects parameters as a statement
// is assembled.
type stmtBuilder struct {
	sql    string
	params []*entity.Parameter
}

func (s *stmtBuilder) bind(d dialect.Dialect, en entry) string {
	s.params = append(s.params, en.param)
	return dialect.Placeholder(d, len(s.params), en.field.Type)
}

func (s *stmtBuilder) where(d dialect.Dialect, keys group) string {
	conds := make([]string, len(keys.entries))
	for i, en := range keys.entries {
		conds[i] = en.field.Column() + " = " + s.bind(d, en)
	}
	return strings.Join(conds, " and ")
}

func (s *stmtBuilder) statement() *Statement {
	return &Statement{SQL: s.sql, Params: s.params}
}
