package database

import (
	"fmt"
)

// Base schema. Written to work on both Postgres and SQLite: TEXT primary
// keys (uuid), TIMESTAMP columns, no driver-specific column types.
const schema = `
CREATE TABLE IF NOT EXISTS targets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'UNKNOWN',
	scope TEXT NOT NULL DEFAULT 'E',
	tag TEXT NOT NULL DEFAULT 'DEFAULT',
	owner TEXT NOT NULL DEFAULT '',
	lastdate TIMESTAMP NOT NULL,
	metadata TEXT NOT NULL DEFAULT '',
	UNIQUE (scope, name)
);

CREATE TABLE IF NOT EXISTS discoveries (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL DEFAULT 'UNKNOWN',
	tag TEXT NOT NULL DEFAULT '',
	info TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	lastdate TIMESTAMP NOT NULL,
	metadata TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS hosts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	nname TEXT NOT NULL DEFAULT '',
	ipv4 TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT 'E',
	tag TEXT NOT NULL DEFAULT 'DEFAULT',
	ports TEXT NOT NULL DEFAULT '',
	full_ports TEXT NOT NULL DEFAULT '',
	service_ssh TEXT NOT NULL DEFAULT '',
	service_rdp TEXT NOT NULL DEFAULT '',
	service_ftp TEXT NOT NULL DEFAULT '',
	service_telnet TEXT NOT NULL DEFAULT '',
	service_smb TEXT NOT NULL DEFAULT '',
	nuclei_http TEXT NOT NULL DEFAULT '',
	info_gnmap TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	lastdate TIMESTAMP NOT NULL,
	metadata TEXT NOT NULL DEFAULT '',
	UNIQUE (scope, name)
);

CREATE TABLE IF NOT EXISTS host_services (
	id TEXT PRIMARY KEY,
	host_id TEXT NOT NULL REFERENCES hosts(id) ON DELETE CASCADE,
	port TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT '',
	protocol TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	rpc_info TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	vulnerability TEXT NOT NULL,
	tfp INTEGER NOT NULL DEFAULT -1,
	level TEXT NOT NULL DEFAULT 'medium',
	scope TEXT NOT NULL DEFAULT 'E',
	engine TEXT NOT NULL DEFAULT '',
	detectiondate TIMESTAMP NOT NULL,
	firstdate TIMESTAMP NOT NULL,
	bumpdate TIMESTAMP NOT NULL,
	ptime TEXT NOT NULL DEFAULT '',
	uri TEXT NOT NULL DEFAULT '',
	full_uri TEXT NOT NULL DEFAULT '',
	truncated BOOLEAN NOT NULL DEFAULT FALSE,
	port TEXT NOT NULL DEFAULT '',
	protocol TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	lastdate TIMESTAMP NOT NULL,
	metadata TEXT NOT NULL DEFAULT '',
	UNIQUE (name, vulnerability)
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	module TEXT NOT NULL DEFAULT '',
	regexp_filter TEXT NOT NULL DEFAULT '',
	exclude_filter TEXT NOT NULL DEFAULT '',
	config TEXT NOT NULL DEFAULT '',
	schedule TEXT NOT NULL DEFAULT '',
	created TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_targets_tag ON targets(scope, tag);
CREATE INDEX IF NOT EXISTS idx_hosts_tag ON hosts(scope, tag);
CREATE INDEX IF NOT EXISTS idx_hosts_nname ON hosts(scope, nname);
CREATE INDEX IF NOT EXISTS idx_host_services_host ON host_services(host_id);
CREATE INDEX IF NOT EXISTS idx_findings_name ON findings(name);
CREATE INDEX IF NOT EXISTS idx_findings_bumpdate ON findings(bumpdate);
CREATE INDEX IF NOT EXISTS idx_findings_lastdate ON findings(lastdate);
`

func (s *sqlStore) migrate() error {
	if s.cfg.Driver == "sqlite3" {
		if _, err := s.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	s.logger.Debugw("schema up to date", "driver", s.cfg.Driver)
	return nil
}
