package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/types"
)

type sqlStore struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
}

// NewStore opens the record store and runs migrations. Postgres and
// SQLite are supported; queries are written with ? placeholders and
// rebound per driver.
func NewStore(cfg config.DatabaseConfig, log *logger.Logger) (core.RecordStore, error) {
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &sqlStore{
		db:     db,
		cfg:    cfg,
		logger: log.WithComponent("database"),
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store.logger.Infow("record store initialized",
		"driver", cfg.Driver,
		"max_connections", cfg.MaxConnections,
	)
	return store, nil
}

// isUniqueViolation reports whether err is a duplicate-key constraint
// error from either supported driver. Races on insert fall through to the
// update path; they are never surfaced to callers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func (s *sqlStore) rebind(query string) string {
	return s.db.Rebind(query)
}

// ---- targets ----

const insertTargetSQL = `
	INSERT INTO targets (id, name, type, scope, tag, owner, lastdate, metadata)
	VALUES (:id, :name, :type, :scope, :tag, :owner, :lastdate, :metadata)`

const updateTargetSQL = `
	UPDATE targets
	SET type = :type, tag = :tag, owner = :owner, lastdate = :lastdate, metadata = :metadata
	WHERE id = :id`

func (s *sqlStore) UpsertTarget(ctx context.Context, t *types.Target) (*types.Target, bool, error) {
	existing, err := s.FindTarget(ctx, t.Scope, t.Name)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		t.ID = uuid.New().String()
		if _, err := s.db.NamedExecContext(ctx, insertTargetSQL, t); err == nil {
			return t, true, nil
		} else if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("failed to insert target %s: %w", t.Name, err)
		}
		s.logger.Debugw("target insert raced, updating instead", "name", t.Name)
		existing, err = s.FindTarget(ctx, t.Scope, t.Name)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("target %s vanished during upsert", t.Name)
		}
	}

	t.ID = existing.ID
	if _, err := s.db.NamedExecContext(ctx, updateTargetSQL, t); err != nil {
		return nil, false, fmt.Errorf("failed to update target %s: %w", t.Name, err)
	}
	return t, false, nil
}

func (s *sqlStore) FindTarget(ctx context.Context, scope types.Scope, name string) (*types.Target, error) {
	var t types.Target
	err := s.db.GetContext(ctx, &t,
		s.rebind(`SELECT * FROM targets WHERE scope = ? AND name = ?`), scope, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query target %s: %w", name, err)
	}
	return &t, nil
}

func (s *sqlStore) FindTargetsByTag(ctx context.Context, scope types.Scope, tag string) ([]types.Target, error) {
	var targets []types.Target
	err := s.db.SelectContext(ctx, &targets,
		s.rebind(`SELECT * FROM targets WHERE scope = ? AND tag = ?`), scope, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets by tag %s: %w", tag, err)
	}
	return targets, nil
}

func (s *sqlStore) ListTargets(ctx context.Context, scope types.Scope) ([]types.Target, error) {
	var targets []types.Target
	err := s.db.SelectContext(ctx, &targets,
		s.rebind(`SELECT * FROM targets WHERE scope = ? ORDER BY name`), scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	return targets, nil
}

func (s *sqlStore) DeleteTargets(ctx context.Context, targets []types.Target) error {
	if len(targets) == 0 {
		return nil
	}
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	query, args, err := sqlx.In(`DELETE FROM targets WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build target delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete targets: %w", err)
	}
	return nil
}

// ---- discoveries ----

const insertDiscoverySQL = `
	INSERT INTO discoveries (id, name, type, tag, info, owner, lastdate, metadata)
	VALUES (:id, :name, :type, :tag, :info, :owner, :lastdate, :metadata)`

const updateDiscoverySQL = `
	UPDATE discoveries
	SET type = :type, tag = :tag, info = :info, owner = :owner, lastdate = :lastdate, metadata = :metadata
	WHERE id = :id`

func (s *sqlStore) UpsertDiscovery(ctx context.Context, d *types.Discovery) (*types.Discovery, bool, error) {
	existing, err := s.FindDiscovery(ctx, d.Name)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		d.ID = uuid.New().String()
		if _, err := s.db.NamedExecContext(ctx, insertDiscoverySQL, d); err == nil {
			return d, true, nil
		} else if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("failed to insert discovery %s: %w", d.Name, err)
		}
		s.logger.Debugw("discovery insert raced, updating instead", "name", d.Name)
		existing, err = s.FindDiscovery(ctx, d.Name)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("discovery %s vanished during upsert", d.Name)
		}
	}

	d.ID = existing.ID
	if _, err := s.db.NamedExecContext(ctx, updateDiscoverySQL, d); err != nil {
		return nil, false, fmt.Errorf("failed to update discovery %s: %w", d.Name, err)
	}
	return d, false, nil
}

func (s *sqlStore) FindDiscovery(ctx context.Context, name string) (*types.Discovery, error) {
	var d types.Discovery
	err := s.db.GetContext(ctx, &d,
		s.rebind(`SELECT * FROM discoveries WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query discovery %s: %w", name, err)
	}
	return &d, nil
}

func (s *sqlStore) FindDiscoveriesByTag(ctx context.Context, tag string) ([]types.Discovery, error) {
	var out []types.Discovery
	err := s.db.SelectContext(ctx, &out,
		s.rebind(`SELECT * FROM discoveries WHERE tag LIKE ?`), "%"+tag+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query discoveries by tag %s: %w", tag, err)
	}
	return out, nil
}

func (s *sqlStore) DeleteDiscoveries(ctx context.Context, discoveries []types.Discovery) error {
	if len(discoveries) == 0 {
		return nil
	}
	ids := make([]string, len(discoveries))
	for i, d := range discoveries {
		ids[i] = d.ID
	}
	query, args, err := sqlx.In(`DELETE FROM discoveries WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build discovery delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete discoveries: %w", err)
	}
	return nil
}

// ---- hosts and services ----

const insertHostSQL = `
	INSERT INTO hosts (id, name, nname, ipv4, scope, tag, ports, full_ports,
		service_ssh, service_rdp, service_ftp, service_telnet, service_smb,
		nuclei_http, info_gnmap, owner, lastdate, metadata)
	VALUES (:id, :name, :nname, :ipv4, :scope, :tag, :ports, :full_ports,
		:service_ssh, :service_rdp, :service_ftp, :service_telnet, :service_smb,
		:nuclei_http, :info_gnmap, :owner, :lastdate, :metadata)`

const updateHostSQL = `
	UPDATE hosts
	SET nname = :nname, ipv4 = :ipv4, tag = :tag, ports = :ports, full_ports = :full_ports,
		service_ssh = :service_ssh, service_rdp = :service_rdp, service_ftp = :service_ftp,
		service_telnet = :service_telnet, service_smb = :service_smb,
		nuclei_http = :nuclei_http, info_gnmap = :info_gnmap,
		owner = :owner, lastdate = :lastdate, metadata = :metadata
	WHERE id = :id`

func (s *sqlStore) UpsertHost(ctx context.Context, h *types.HostRecord) (*types.HostRecord, bool, error) {
	existing, err := s.FindHost(ctx, h.Scope, h.Name)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		h.ID = uuid.New().String()
		if _, err := s.db.NamedExecContext(ctx, insertHostSQL, h); err == nil {
			return h, true, nil
		} else if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("failed to insert host %s: %w", h.Name, err)
		}
		s.logger.Debugw("host insert raced, updating instead", "name", h.Name)
		existing, err = s.FindHost(ctx, h.Scope, h.Name)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("host %s vanished during upsert", h.Name)
		}
	}

	h.ID = existing.ID
	if _, err := s.db.NamedExecContext(ctx, updateHostSQL, h); err != nil {
		return nil, false, fmt.Errorf("failed to update host %s: %w", h.Name, err)
	}
	return h, false, nil
}

func (s *sqlStore) FindHost(ctx context.Context, scope types.Scope, name string) (*types.HostRecord, error) {
	var h types.HostRecord
	err := s.db.GetContext(ctx, &h,
		s.rebind(`SELECT * FROM hosts WHERE scope = ? AND name = ?`), scope, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query host %s: %w", name, err)
	}
	return &h, nil
}

func (s *sqlStore) FindHostsByTag(ctx context.Context, scope types.Scope, tag string) ([]types.HostRecord, error) {
	var hosts []types.HostRecord
	err := s.db.SelectContext(ctx, &hosts,
		s.rebind(`SELECT * FROM hosts WHERE scope = ? AND tag = ?`), scope, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to query hosts by tag %s: %w", tag, err)
	}
	return hosts, nil
}

func (s *sqlStore) FindLinkedHosts(ctx context.Context, scope types.Scope, name string) ([]types.HostRecord, error) {
	var hosts []types.HostRecord
	err := s.db.SelectContext(ctx, &hosts,
		s.rebind(`SELECT * FROM hosts WHERE scope = ? AND (name = ? OR nname = ?)`),
		scope, name, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked hosts for %s: %w", name, err)
	}
	return hosts, nil
}

func (s *sqlStore) DeleteHosts(ctx context.Context, hosts []types.HostRecord) error {
	if len(hosts) == 0 {
		return nil
	}
	ids := make([]string, len(hosts))
	for i, h := range hosts {
		ids[i] = h.ID
	}
	query, args, err := sqlx.In(`DELETE FROM hosts WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build host delete: %w", err)
	}
	// Service rows go with their host via ON DELETE CASCADE.
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete hosts: %w", err)
	}
	return nil
}

func (s *sqlStore) ListServices(ctx context.Context, hostID string) ([]types.Service, error) {
	var services []types.Service
	err := s.db.SelectContext(ctx, &services,
		s.rebind(`SELECT port, state, protocol, owner, name, rpc_info, version
			FROM host_services WHERE host_id = ? ORDER BY port`), hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list services for host %s: %w", hostID, err)
	}
	return services, nil
}

func (s *sqlStore) ReplaceServices(ctx context.Context, hostID string, services []types.Service) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin service replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM host_services WHERE host_id = ?`), hostID); err != nil {
		return fmt.Errorf("failed to clear services for host %s: %w", hostID, err)
	}
	for _, svc := range services {
		if _, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO host_services (id, host_id, port, state, protocol, owner, name, rpc_info, version)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			uuid.New().String(), hostID, svc.Port, svc.State, svc.Protocol,
			svc.Owner, svc.Name, svc.RPCInfo, svc.Version); err != nil {
			return fmt.Errorf("failed to insert service %s for host %s: %w", svc.Port, hostID, err)
		}
	}
	return tx.Commit()
}

// ---- findings ----

const insertFindingSQL = `
	INSERT INTO findings (id, name, vulnerability, tfp, level, scope, engine,
		detectiondate, firstdate, bumpdate, ptime, uri, full_uri, truncated,
		port, protocol, owner, lastdate, metadata)
	VALUES (:id, :name, :vulnerability, :tfp, :level, :scope, :engine,
		:detectiondate, :firstdate, :bumpdate, :ptime, :uri, :full_uri, :truncated,
		:port, :protocol, :owner, :lastdate, :metadata)`

const updateFindingSQL = `
	UPDATE findings
	SET tfp = :tfp, level = :level, scope = :scope, engine = :engine,
		detectiondate = :detectiondate, firstdate = :firstdate, bumpdate = :bumpdate,
		ptime = :ptime, uri = :uri, full_uri = :full_uri, truncated = :truncated,
		port = :port, protocol = :protocol, owner = :owner, lastdate = :lastdate,
		metadata = :metadata
	WHERE id = :id`

func (s *sqlStore) UpsertFinding(ctx context.Context, f *types.VulnFinding) (*types.VulnFinding, bool, error) {
	existing, err := s.FindFinding(ctx, f.Name, f.Vulnerability)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		f.ID = uuid.New().String()
		if _, err := s.db.NamedExecContext(ctx, insertFindingSQL, f); err == nil {
			return f, true, nil
		} else if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("failed to insert finding %s/%s: %w", f.Name, f.Vulnerability, err)
		}
		s.logger.Debugw("finding insert raced, updating instead",
			"name", f.Name, "vulnerability", f.Vulnerability)
		existing, err = s.FindFinding(ctx, f.Name, f.Vulnerability)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("finding %s/%s vanished during upsert", f.Name, f.Vulnerability)
		}
	}

	f.ID = existing.ID
	if _, err := s.db.NamedExecContext(ctx, updateFindingSQL, f); err != nil {
		return nil, false, fmt.Errorf("failed to update finding %s/%s: %w", f.Name, f.Vulnerability, err)
	}
	return f, false, nil
}

func (s *sqlStore) FindFinding(ctx context.Context, name, vulnerability string) (*types.VulnFinding, error) {
	var f types.VulnFinding
	err := s.db.GetContext(ctx, &f,
		s.rebind(`SELECT * FROM findings WHERE name = ? AND vulnerability = ?`),
		name, vulnerability)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query finding %s/%s: %w", name, vulnerability, err)
	}
	return &f, nil
}

func (s *sqlStore) ListFindings(ctx context.Context, filter core.FindingFilter) ([]types.VulnFinding, error) {
	query := `SELECT * FROM findings WHERE 1=1`
	args := []interface{}{}

	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}
	if filter.Scope != "" {
		query += ` AND scope = ?`
		args = append(args, filter.Scope)
	}
	if len(filter.Statuses) > 0 {
		in, inArgs, err := sqlx.In(` AND tfp IN (?)`, filter.Statuses)
		if err != nil {
			return nil, fmt.Errorf("failed to build finding filter: %w", err)
		}
		query += in
		args = append(args, inArgs...)
	}
	if filter.DetectedAfter != nil {
		query += ` AND detectiondate > ?`
		args = append(args, *filter.DetectedAfter)
	}
	if filter.BumpBefore != nil {
		query += ` AND bumpdate < ?`
		args = append(args, *filter.BumpBefore)
	}
	if filter.LastBefore != nil {
		query += ` AND lastdate < ?`
		args = append(args, *filter.LastBefore)
	}
	query += ` ORDER BY detectiondate DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var findings []types.VulnFinding
	if err := s.db.SelectContext(ctx, &findings, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	return findings, nil
}

func (s *sqlStore) SearchFindings(ctx context.Context, term string, limit int) ([]types.VulnFinding, error) {
	if limit <= 0 {
		limit = 100
	}

	var query string
	var args []interface{}
	if s.cfg.Driver == "postgres" {
		query = `SELECT * FROM findings
			WHERE full_uri ~ $1 OR vulnerability ~ $1 OR metadata ~ $1
			ORDER BY detectiondate DESC LIMIT $2`
		args = []interface{}{term, limit}
	} else {
		like := "%" + term + "%"
		query = s.rebind(`SELECT * FROM findings
			WHERE full_uri LIKE ? OR vulnerability LIKE ? OR metadata LIKE ?
			ORDER BY detectiondate DESC LIMIT ?`)
		args = []interface{}{like, like, like, limit}
	}

	var findings []types.VulnFinding
	if err := s.db.SelectContext(ctx, &findings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search findings for %q: %w", term, err)
	}
	return findings, nil
}

func (s *sqlStore) SaveFinding(ctx context.Context, f *types.VulnFinding) error {
	if _, err := s.db.NamedExecContext(ctx, updateFindingSQL, f); err != nil {
		return fmt.Errorf("failed to save finding %s/%s: %w", f.Name, f.Vulnerability, err)
	}
	return nil
}

func (s *sqlStore) DeleteFindings(ctx context.Context, findings []types.VulnFinding) error {
	if len(findings) == 0 {
		return nil
	}
	ids := make([]string, len(findings))
	for i, f := range findings {
		ids[i] = f.ID
	}
	query, args, err := sqlx.In(`DELETE FROM findings WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build finding delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete findings: %w", err)
	}
	return nil
}

func (s *sqlStore) PurgeFindings(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM findings`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge findings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// ---- jobs ----

func (s *sqlStore) SaveJob(ctx context.Context, j *types.Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Created.IsZero() {
		j.Created = time.Now().UTC()
	}

	existing, err := s.GetJob(ctx, j.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		j.ID = existing.ID
		_, err := s.db.NamedExecContext(ctx, `
			UPDATE jobs SET module = :module, regexp_filter = :regexp_filter,
				exclude_filter = :exclude_filter, config = :config, schedule = :schedule
			WHERE id = :id`, j)
		if err != nil {
			return fmt.Errorf("failed to update job %s: %w", j.Name, err)
		}
		return nil
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO jobs (id, name, module, regexp_filter, exclude_filter, config, schedule, created)
		VALUES (:id, :name, :module, :regexp_filter, :exclude_filter, :config, :schedule, :created)`, j)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", j.Name, err)
	}
	return nil
}

func (s *sqlStore) GetJob(ctx context.Context, name string) (*types.Job, error) {
	var j types.Job
	err := s.db.GetContext(ctx, &j,
		s.rebind(`SELECT * FROM jobs WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job %s: %w", name, err)
	}
	return &j, nil
}

func (s *sqlStore) ListJobs(ctx context.Context) ([]types.Job, error) {
	var jobs []types.Job
	if err := s.db.SelectContext(ctx, &jobs, `SELECT * FROM jobs ORDER BY created`); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (s *sqlStore) DeleteJob(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM jobs WHERE name = ?`), name); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", name, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
