package dialect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/faucetdb/cistern/internal/generic"
)

var (
	// ErrNoProcedures is returned when a procedure is called by name on a
	// database without stored procedures.
	ErrNoProcedures = errors.New("stored procedures are not supported")
	// ErrNoOutParameters is returned when Out or InOut parameters are bound
	// on a database that cannot return them.
	ErrNoOutParameters = errors.New("output parameters are not supported")
)

// OutStyle is how a database hands Out and InOut parameters back.
type OutStyle int

const (
	// OutNone: the database has no output parameters.
	OutNone OutStyle = iota
	// OutBind: output parameters are sql.Out driver arguments.
	OutBind
	// OutResultRow: the call returns one row whose columns are the output
	// parameters. Out parameters are sent as NULL.
	OutResultRow
	// OutSessionVars: output parameters are session variables, set before
	// the call and selected after it.
	OutSessionVars
)

// ProcedureSyntax describes how a dialect calls a stored procedure by name.
type ProcedureSyntax struct {
	// Call is a format taking the procedure name and the comma-separated
	// argument list.
	Call string
	Out  OutStyle
	// OutMarker, when set, is a format applied to the placeholder of an
	// Out or InOut argument, e.g. "%s OUTPUT".
	OutMarker string
	// NoResultSet is set when the call statement never yields rows and
	// must be executed rather than queried.
	NoResultSet bool
}

// CallSQL renders the call of name over args.
func (s *ProcedureSyntax) CallSQL(name string, args []string) string {
	return fmt.Sprintf(s.Call, name, strings.Join(args, ", "))
}

// SessionVar is the session variable carrying the Out/InOut argument at the
// 1-based index under OutSessionVars.
func SessionVar(index int) string {
	return fmt.Sprintf("@cistern_out_%d", index)
}

// ArgPlaceholder returns the marker for the argument at the 1-based index
// and whether it consumes a driver argument. Out and InOut arguments are
// rendered the way the dialect returns them; a nil syntax has no output
// parameters and fails for them.
func ArgPlaceholder(d Dialect, index int, t generic.Type, out bool) (string, bool, error) {
	if !out {
		return Placeholder(d, index, t), true, nil
	}
	s := d.Procedures()
	if s == nil || s.Out == OutNone {
		return "", false, fmt.Errorf("%s: %w", d.Name(), ErrNoOutParameters)
	}
	switch s.Out {
	case OutSessionVars:
		return SessionVar(index), false, nil
	case OutBind:
		ph := d.ParameterPlaceholder(index)
		if s.OutMarker != "" {
			ph = fmt.Sprintf(s.OutMarker, ph)
		}
		return ph, true, nil
	}
	return Placeholder(d, index, t), true, nil
}
