package model

import "time"

// StoredEntity is an entity definition kept in the configuration store: the
// clause plus its YAML (or JSON) sidecar.
type StoredEntity struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Clause    string    `json:"sql" db:"clause"`
	Sidecar   string    `json:"sidecar,omitempty" db:"sidecar"`
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
