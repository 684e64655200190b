package dialect

import "fmt"

// SavepointSyntax holds the statement templates for savepoints. Release may
// be empty for databases that have no explicit release.
type SavepointSyntax struct {
	Create   string
	Rollback string
	Release  string
}

// StandardSavepoints is the SQL:1999 syntax shared by PostgreSQL, MySQL and
// SQLite.
var StandardSavepoints = &SavepointSyntax{
	Create:   "SAVEPOINT %s",
	Rollback: "ROLLBACK TO SAVEPOINT %s",
	Release:  "RELEASE SAVEPOINT %s",
}

func (s *SavepointSyntax) CreateSQL(name string) string   { return fmt.Sprintf(s.Create, name) }
func (s *SavepointSyntax) RollbackSQL(name string) string { return fmt.Sprintf(s.Rollback, name) }

// ReleaseSQL returns "" when the dialect has no release statement.
func (s *SavepointSyntax) ReleaseSQL(name string) string {
	if s.Release == "" {
		return ""
	}
	return fmt.Sprintf(s.Release, name)
}
