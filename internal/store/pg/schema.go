package pg

import (
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the migration version this binary expects.
// Bump it together with each new file under migrations/.
const RequiredSchemaVersion = 1

// SchemaStatus is the result of comparing the live schema_migrations
// row against RequiredSchemaVersion.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// CheckSchema reads the schema_migrations table. A missing table or row
// means a fresh database that still needs "letsgo migrate up".
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	var version uint
	var dirty bool

	err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			// Table likely does not exist yet; treat as fresh.
		}
		return &SchemaStatus{
			RequiredVersion: RequiredSchemaVersion,
			NeedsMigration:  true,
		}, nil
	}

	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s, nil
	}

	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Advice returns a one-line operator hint for a non-compatible status.
func (s *SchemaStatus) Advice() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("schema is dirty at v%d, run: letsgo migrate force %d, then: letsgo migrate up",
			s.CurrentVersion, s.CurrentVersion-1)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf("schema v%d is newer than this binary (wants v%d), upgrade letsgo",
			s.CurrentVersion, s.RequiredVersion)
	case s.NeedsMigration:
		return fmt.Sprintf("schema v%d is behind v%d, run: letsgo migrate up",
			s.CurrentVersion, s.RequiredVersion)
	default:
		return ""
	}
}
