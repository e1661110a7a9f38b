// Package postgres provides the Postgres-backed PersistenceSink.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/dedup"
)

const uniqueViolation = "23505"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore writes job records into Postgres. The table needs a unique index
// on url_key:
//
//	CREATE TABLE jobs (
//		id           TEXT PRIMARY KEY,
//		title        TEXT NOT NULL,
//		company      TEXT NOT NULL DEFAULT '',
//		location     TEXT NOT NULL DEFAULT '',
//		salary       TEXT NOT NULL DEFAULT '',
//		description  TEXT NOT NULL DEFAULT '',
//		url          TEXT NOT NULL,
//		url_key      TEXT NOT NULL UNIQUE,
//		apply_system TEXT NOT NULL DEFAULT '',
//		source_site  TEXT NOT NULL,
//		keyword      TEXT NOT NULL DEFAULT '',
//		scraped_at   TIMESTAMPTZ NOT NULL,
//		status       TEXT NOT NULL
//	);
type JobStore struct {
	pool  pool
	table string
	ids   crawler.IDGenerator
}

// NewJobStore connects to Postgres using cfg.
func NewJobStore(ctx context.Context, cfg Config, ids crawler.IDGenerator) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: p, table: table, ids: ids}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, table string, ids crawler.IDGenerator) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: p, table: table, ids: ids}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// AddJob inserts rec. A record whose normalized URL is already stored yields
// crawler.ErrDuplicateJob and the existing id.
func (s *JobStore) AddJob(ctx context.Context, rec crawler.JobRecord) (string, error) {
	if !rec.Status.Valid() {
		return "", fmt.Errorf("invalid job status %q", rec.Status)
	}
	id, err := s.newID()
	if err != nil {
		return "", err
	}
	key := dedup.URLKey(rec.URL)
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	title,
	company,
	location,
	salary,
	description,
	url,
	url_key,
	apply_system,
	source_site,
	keyword,
	scraped_at,
	status
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (url_key) DO NOTHING
RETURNING id`, s.table)

	var stored string
	err = s.pool.QueryRow(ctx, query,
		id,
		rec.Title,
		rec.Company,
		rec.Location,
		rec.Salary,
		rec.Description,
		rec.URL,
		key,
		rec.ApplySystem,
		rec.SourceSite,
		rec.Keyword,
		rec.ScrapedAt,
		string(rec.Status),
	).Scan(&stored)
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
		return s.existingID(ctx, key)
	default:
		return "", fmt.Errorf("insert job: %w", err)
	}
}

func (s *JobStore) existingID(ctx context.Context, key string) (string, error) {
	var id string
	query := fmt.Sprintf(`SELECT id FROM %s WHERE url_key = $1`, s.table)
	if err := s.pool.QueryRow(ctx, query, key).Scan(&id); err != nil {
		return "", fmt.Errorf("%w: lookup existing: %v", crawler.ErrDuplicateJob, err)
	}
	return id, fmt.Errorf("%w: %s", crawler.ErrDuplicateJob, key)
}

// GetJobs returns records matching filter ordered by scraped_at.
func (s *JobStore) GetJobs(ctx context.Context, filter crawler.JobFilter) ([]crawler.JobRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.SourceSite != "" {
		add("source_site = $%d", filter.SourceSite)
	}
	if filter.Keyword != "" {
		add("keyword = $%d", filter.Keyword)
	}
	if !filter.Since.IsZero() {
		add("scraped_at >= $%d", filter.Since)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT id, title, company, location, salary, description, url, apply_system, source_site, keyword, scraped_at, status FROM %s`, s.table)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY scraped_at, id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []crawler.JobRecord
	for rows.Next() {
		var (
			rec    crawler.JobRecord
			status string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Title,
			&rec.Company,
			&rec.Location,
			&rec.Salary,
			&rec.Description,
			&rec.URL,
			&rec.ApplySystem,
			&rec.SourceSite,
			&rec.Keyword,
			&rec.ScrapedAt,
			&status,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		rec.Status = crawler.JobStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}

// UpdateJob applies the non-nil fields of fields to the record with id.
func (s *JobStore) UpdateJob(ctx context.Context, id string, fields crawler.JobUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fields.Status != nil {
		if !fields.Status.Valid() {
			return fmt.Errorf("invalid job status %q", *fields.Status)
		}
		set("status", string(*fields.Status))
	}
	if fields.Description != nil {
		set("description", *fields.Description)
	}
	if fields.Salary != nil {
		set("salary", *fields.Salary)
	}
	if fields.Location != nil {
		set("location", *fields.Location)
	}
	if fields.URL != nil {
		set("url", *fields.URL)
		set("url_key", dedup.URLKey(*fields.URL))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, s.table, strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", crawler.ErrDuplicateJob, id)
		}
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", crawler.ErrJobNotFound, id)
	}
	return nil
}

func (s *JobStore) newID() (string, error) {
	if s.ids != nil {
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate job id: %w", err)
		}
		return id, nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
