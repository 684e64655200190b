// Package changes turns caller actions against entities into the SQL
// statements that apply them.
package changes

// Action is a write request against one entity. It is one of Add, Change,
// Remove or Command.
type Action interface {
	EntityName() string
	action()
}

// Values maps field (or parameter) names to caller values. Names are
// matched ignoring case.
type Values map[string]any

// Add inserts Data.
type Add struct {
	Entity string
	Data   Values
}

// Change updates Data in the rows identified by Keys.
type Change struct {
	Entity string
	Keys   Values
	Data   Values
}

// Remove deletes the rows identified by Keys.
type Remove struct {
	Entity string
	Keys   Values
}

// Command executes the entity clause itself with Args bound to its
// parameters.
type Command struct {
	Entity string
	Args   Values
}

func NewAdd(entity string, data Values) Add { return Add{Entity: entity, Data: data} }

func NewChange(entity string, keys, data Values) Change {
	return Change{Entity: entity, Keys: keys, Data: data}
}

func NewRemove(entity string, keys Values) Remove { return Remove{Entity: entity, Keys: keys} }

func NewCommand(entity string, args Values) Command { return Command{Entity: entity, Args: args} }

func (a Add) EntityName() string     { return a.Entity }
func (a Change) EntityName() string  { return a.Entity }
func (a Remove) EntityName() string  { return a.Entity }
func (a Command) EntityName() string { return a.Entity }

func (Add) action()     {}
func (Change) action()  {}
func (Remove) action()  {}
func (Command) action() {}

// Kind names the action variant, for logs and metrics.
func Kind(a Action) string {
	switch a.(type) {
	case Add:
		return "add"
	case Change:
		return "change"
	case Remove:
		return "remove"
	case Command:
		return "command"
	}
	return "unknown"
}
