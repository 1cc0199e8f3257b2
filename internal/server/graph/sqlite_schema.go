package graph

// SQLite schema DDL constants

const schemaElements = `
CREATE TABLE IF NOT EXISTS elements (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT UNIQUE NOT NULL,
    type_tag TEXT NOT NULL,
    short_name TEXT,
    attributes TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    modified_at DATETIME NOT NULL
)`

// One row per populated reference field, kept in step with attributes so
// delete can find referrers without scanning JSON.
const schemaReferences = `
CREATE TABLE IF NOT EXISTS element_refs (
    source_id TEXT NOT NULL,
    field TEXT NOT NULL,
    target_id TEXT NOT NULL,
    PRIMARY KEY (source_id, field)
)`

// Index definitions
const indexElementsType = `CREATE INDEX IF NOT EXISTS idx_elements_type ON elements(type_tag)`
const indexElementsShortName = `CREATE INDEX IF NOT EXISTS idx_elements_short_name ON elements(type_tag, short_name)`
const indexRefsTarget = `CREATE INDEX IF NOT EXISTS idx_refs_target ON element_refs(target_id)`

// SQLite pragmas
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaFK = `PRAGMA foreign_keys=ON`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaElements,
		schemaReferences,
		indexElementsType,
		indexElementsShortName,
		indexRefsTarget,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaFK,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}
