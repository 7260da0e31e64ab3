package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"northstar-hq/polaris/pkg/state"
)

const backendSQLite = "sqlite"

// SQLiteConfig configures the SQLite-backed store.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" gives an ephemeral database.
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// SQLiteStore persists entities in a single SQLite database with WAL
// journaling. Suitable for single-instance deployments that need the audit
// trail to survive restarts.
type SQLiteStore struct {
	db        *sql.DB
	closeOnce sync.Once
	closeErr  error

	saveKeyStmt        *sql.Stmt
	getKeyStmt         *sql.Stmt
	saveQuotaStmt      *sql.Stmt
	getQuotaStmt       *sql.Stmt
	saveDecisionStmt   *sql.Stmt
	saveTransitionStmt *sql.Stmt
}

// NewSQLiteStore opens (creating if needed) the database at path and
// initializes the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{Path: path})
}

// NewSQLiteStoreWithConfig opens the database with explicit settings.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, state.NewStoreError(backendSQLite, "open", errors.New("path cannot be empty"))
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, state.NewStoreError(backendSQLite, "open", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, state.NewStoreError(backendSQLite, "init_schema", err)
	}
	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, state.NewStoreError(backendSQLite, "prepare", err)
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.saveKeyStmt, err = s.db.Prepare(`
		INSERT INTO api_keys (id, provider_id, encrypted_material, state, state_changed_at,
			created_at, last_used_at, usage_count, failure_count, cooldown_until, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_id = excluded.provider_id,
			encrypted_material = excluded.encrypted_material,
			state = excluded.state,
			state_changed_at = excluded.state_changed_at,
			last_used_at = excluded.last_used_at,
			usage_count = excluded.usage_count,
			failure_count = excluded.failure_count,
			cooldown_until = excluded.cooldown_until,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("save key statement: %w", err)
	}

	s.getKeyStmt, err = s.db.Prepare(`
		SELECT id, provider_id, encrypted_material, state, state_changed_at,
			created_at, last_used_at, usage_count, failure_count, cooldown_until, metadata
		FROM api_keys WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("get key statement: %w", err)
	}

	s.saveQuotaStmt, err = s.db.Prepare(`
		INSERT INTO quota_states (id, key_id, capacity_state, unit, remaining, total, used,
			tokens_remaining, tokens_total, tokens_used, window, custom_window, reset_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key_id) DO UPDATE SET
			id = excluded.id,
			capacity_state = excluded.capacity_state,
			unit = excluded.unit,
			remaining = excluded.remaining,
			total = excluded.total,
			used = excluded.used,
			tokens_remaining = excluded.tokens_remaining,
			tokens_total = excluded.tokens_total,
			tokens_used = excluded.tokens_used,
			window = excluded.window,
			custom_window = excluded.custom_window,
			reset_at = excluded.reset_at,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("save quota statement: %w", err)
	}

	s.getQuotaStmt, err = s.db.Prepare(`
		SELECT id, key_id, capacity_state, unit, remaining, total, used,
			tokens_remaining, tokens_total, tokens_used, window, custom_window, reset_at, updated_at
		FROM quota_states WHERE key_id = ?`)
	if err != nil {
		return fmt.Errorf("get quota statement: %w", err)
	}

	s.saveDecisionStmt, err = s.db.Prepare(`
		INSERT INTO routing_decisions (id, request_id, correlation_id, selected_key_id,
			selected_provider_id, timestamp, objective, eligible_keys, scores,
			explanation, confidence, alternatives)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save decision statement: %w", err)
	}

	s.saveTransitionStmt, err = s.db.Prepare(`
		INSERT INTO state_transitions (id, entity_type, entity_id, from_state, to_state,
			timestamp, trigger_tag, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save transition statement: %w", err)
	}
	return nil
}

// SaveKey upserts a key by id.
func (s *SQLiteStore) SaveKey(ctx context.Context, key *state.Key) error {
	metadata, err := marshalNullable(key.Metadata, len(key.Metadata) > 0)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_key", err)
	}
	_, err = s.saveKeyStmt.ExecContext(ctx,
		key.ID,
		key.ProviderID,
		key.EncryptedMaterial,
		string(key.State),
		key.StateChangedAt.UnixNano(),
		key.CreatedAt.UnixNano(),
		nullTime(key.LastUsedAt),
		key.UsageCount,
		key.FailureCount,
		nullTime(key.CooldownUntil),
		metadata,
	)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_key", err)
	}
	return nil
}

// GetKey returns the key or state.ErrNotFound.
func (s *SQLiteStore) GetKey(ctx context.Context, id string) (*state.Key, error) {
	row := s.getKeyStmt.QueryRowContext(ctx, id)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, state.NewStoreError(backendSQLite, "get_key", err)
	}
	return k, nil
}

// ListKeys returns keys for the provider, oldest-first.
func (s *SQLiteStore) ListKeys(ctx context.Context, providerID string) ([]*state.Key, error) {
	query := `SELECT id, provider_id, encrypted_material, state, state_changed_at,
		created_at, last_used_at, usage_count, failure_count, cooldown_until, metadata
		FROM api_keys`
	var args []any
	if providerID != "" {
		query += " WHERE provider_id = ?"
		args = append(args, providerID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, state.NewStoreError(backendSQLite, "list_keys", err)
	}
	defer rows.Close()

	var out []*state.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, state.NewStoreError(backendSQLite, "list_keys", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, state.NewStoreError(backendSQLite, "list_keys", err)
	}
	if out == nil {
		out = []*state.Key{}
	}
	return out, nil
}

// SaveQuotaState upserts by key id.
func (s *SQLiteStore) SaveQuotaState(ctx context.Context, qs *state.QuotaState) error {
	remaining, err := json.Marshal(qs.Remaining)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_quota_state", err)
	}
	tokensRemaining, err := marshalNullable(qs.TokensRemaining, qs.TokensRemaining != nil)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_quota_state", err)
	}

	_, err = s.saveQuotaStmt.ExecContext(ctx,
		qs.ID,
		qs.KeyID,
		string(qs.CapacityState),
		string(qs.Unit),
		string(remaining),
		nullInt(qs.Total),
		qs.Used,
		tokensRemaining,
		nullInt(qs.TokensTotal),
		qs.TokensUsed,
		string(qs.Window),
		int64(qs.CustomWindow),
		qs.ResetAt.UnixNano(),
		qs.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_quota_state", err)
	}
	return nil
}

// GetQuotaState returns the quota state for the key or state.ErrNotFound.
func (s *SQLiteStore) GetQuotaState(ctx context.Context, keyID string) (*state.QuotaState, error) {
	row := s.getQuotaStmt.QueryRowContext(ctx, keyID)
	qs, err := scanQuota(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, state.NewStoreError(backendSQLite, "get_quota_state", err)
	}
	return qs, nil
}

// SaveRoutingDecision appends an audit decision.
func (s *SQLiteStore) SaveRoutingDecision(ctx context.Context, d *state.RoutingDecision) error {
	objective, err := json.Marshal(d.Objective)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_routing_decision", err)
	}
	eligible, err := json.Marshal(d.EligibleKeys)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_routing_decision", err)
	}
	scores, err := json.Marshal(d.Scores)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_routing_decision", err)
	}
	alternatives, err := marshalNullable(d.Alternatives, len(d.Alternatives) > 0)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_routing_decision", err)
	}

	_, err = s.saveDecisionStmt.ExecContext(ctx,
		d.ID,
		d.RequestID,
		d.CorrelationID,
		d.SelectedKeyID,
		d.SelectedProviderID,
		d.Timestamp.UnixNano(),
		string(objective),
		string(eligible),
		string(scores),
		d.Explanation,
		d.Confidence,
		alternatives,
	)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_routing_decision", err)
	}
	return nil
}

// SaveStateTransition appends an audit transition.
func (s *SQLiteStore) SaveStateTransition(ctx context.Context, tr *state.StateTransition) error {
	contextJSON, err := marshalNullable(tr.Context, len(tr.Context) > 0)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_state_transition", err)
	}
	_, err = s.saveTransitionStmt.ExecContext(ctx,
		tr.ID,
		string(tr.EntityType),
		tr.EntityID,
		tr.FromState,
		tr.ToState,
		tr.Timestamp.UnixNano(),
		tr.Trigger,
		contextJSON,
	)
	if err != nil {
		return state.NewStoreError(backendSQLite, "save_state_transition", err)
	}
	return nil
}

// QueryState filters one entity family, pushing the predicates into SQL so
// the declared indexes serve them.
func (s *SQLiteStore) QueryState(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	switch q.EntityType {
	case state.EntityKey:
		return s.querySQLKeys(ctx, q)
	case state.EntityQuota:
		return s.querySQLQuota(ctx, q)
	case state.EntityDecision:
		return s.querySQLDecisions(ctx, q)
	case state.EntityTransition:
		return s.querySQLTransitions(ctx, q)
	default:
		return nil, state.NewStoreError(backendSQLite, "query_state", errUnknownEntityType(q.EntityType))
	}
}

func (s *SQLiteStore) querySQLKeys(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	var (
		where []string
		args  []any
	)
	if q.KeyID != "" {
		where = append(where, "id = ?")
		args = append(args, q.KeyID)
	}
	if q.ProviderID != "" {
		where = append(where, "provider_id = ?")
		args = append(args, q.ProviderID)
	}
	if q.State != "" {
		where = append(where, "state = ?")
		args = append(args, q.State)
	}
	where, args = appendTimeBounds(where, args, "created_at", q)

	query := `SELECT id, provider_id, encrypted_material, state, state_changed_at,
		created_at, last_used_at, usage_count, failure_count, cooldown_until, metadata
		FROM api_keys` + whereClause(where) + " ORDER BY created_at ASC, id ASC" + limitClause(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, state.NewStoreError(backendSQLite, "query_state", err)
	}
	defer rows.Close()

	result := &state.QueryResult{Keys: []*state.Key{}}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, state.NewStoreError(backendSQLite, "query_state", err)
		}
		result.Keys = append(result.Keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, state.NewStoreError(backendSQLite, "query_state", err)
	}
	return result, nil
}

func (s *SQLiteStore) querySQLQuota(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	var (
		where []string
		args  []any
	)
	if q.KeyID != "" {
		where = append(where, "key_id = ?")
		args = append(args, q.KeyID)
	}
	if q.State != "" {
		where = append(where, "capacity_state = ?")
		args = append(args, q.State)
	}
	where, args = appendTimeBounds(where, args, "updated_at", q)

	query := `SELECT id, key_id, capacity_state, unit, remaining, total, used,
		tokens_remaining, tokens_total, tokens_used, window, custom_window, reset_at, updated_at
		FROM quota_states` + whereClause(where) + " ORDER BY updated_at ASC, key_id ASC" + limitClause(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, state.NewStoreError(backendSQLite, "query_state", err)
	}
	defer rows.Close()

	result := &state.QueryResult{QuotaStates: []*state.QuotaState{}}
	for rows.Next() {
		qs, err := scanQuota(rows)
		if err != nil {
			return nil, state.NewStoreError(backendSQLite, "query_state", err)
		}
		result.QuotaStates = append(result.QuotaStates, qs)
	}
	if err := rows.Err(); err != nil {
		return nil, state.NewStoreError(backendSQLite, "query_state", err)
	}
	return result, nil
}

func (s *SQLiteStore) querySQLDecisions(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	var (
		where []string
		args  []any
	)
	if q.KeyID != "" {
		where = append(where, "selected_key_id = ?")
		args = append(args, q.KeyID)
	}
	if q.ProviderID != "" {
		where = append(where, "selected_provider_id = ?")
		args = append(args, q.ProviderID)
	}
	where, args = appendTimeBounds(where, args, "timestamp", q)

	query := `SELECT id, request_id, correlation_id, selected_key_id, selected_provider_id,
		timestamp, objective, eligible_keys, scores, explanation, confidence, alternatives
		FROM routing_decisions` + whereClause(where) + " ORDER BY timestamp DESC, id ASC" + limitClause(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, state.NewStoreError(backendSQLite, "query_state", err)
	}
	defer rows.Close()

	result := &state.QueryResult{Decisions: []*state.RoutingDecision{}}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, state.NewStoreError(backendSQLite, "query_state", err)
		}
		result.Decisions = append(result.Decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, state.NewStoreError(backendSQLite, "query_state", err)
	}
	return result, nil
}

func (s *SQLiteStore) querySQLTransitions(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	var (
		where []string
		args  []any
	)
	if q.KeyID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, q.KeyID)
	}
	if q.State != "" {
		where = append(where, "to_state = ?")
		args = append(args, q.State)
	}
	where, args = appendTimeBounds(where, args, "timestamp", q)

	query := `SELECT id, entity_type, entity_id, from_state, to_state, timestamp, trigger_tag, context
		FROM state_transitions` + whereClause(where) + " ORDER BY timestamp DESC, id ASC" + limitClause(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, state.NewStoreError(backendSQLite, "query_state", err)
	}
	defer rows.Close()

	result := &state.QueryResult{Transitions: []*state.StateTransition{}}
	for rows.Next() {
		tr, err := scanTransition(rows)
		if err != nil {
			return nil, state.NewStoreError(backendSQLite, "query_state", err)
		}
		result.Transitions = append(result.Transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, state.NewStoreError(backendSQLite, "query_state", err)
	}
	return result, nil
}

// PruneAudit deletes decisions and transitions older than the cutoff and
// returns the number of rows removed. Driven by the retention schedule.
func (s *SQLiteStore) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixNano()
	var total int64

	res, err := s.db.ExecContext(ctx, "DELETE FROM routing_decisions WHERE timestamp < ?", cutoff)
	if err != nil {
		return total, state.NewStoreError(backendSQLite, "prune_audit", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, "DELETE FROM state_transitions WHERE timestamp < ?", cutoff)
	if err != nil {
		return total, state.NewStoreError(backendSQLite, "prune_audit", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

// Ping verifies the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return state.NewStoreError(backendSQLite, "ping", err)
	}
	return nil
}

// Close finalizes statements and closes the database.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{
			s.saveKeyStmt, s.getKeyStmt, s.saveQuotaStmt, s.getQuotaStmt,
			s.saveDecisionStmt, s.saveTransitionStmt,
		} {
			if stmt != nil {
				_ = stmt.Close()
			}
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// ====================================================================
// Row scanning
// ====================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*state.Key, error) {
	var (
		k              state.Key
		stateStr       string
		stateChangedAt int64
		createdAt      int64
		lastUsedAt     sql.NullInt64
		cooldownUntil  sql.NullInt64
		metadata       sql.NullString
	)
	err := row.Scan(&k.ID, &k.ProviderID, &k.EncryptedMaterial, &stateStr, &stateChangedAt,
		&createdAt, &lastUsedAt, &k.UsageCount, &k.FailureCount, &cooldownUntil, &metadata)
	if err != nil {
		return nil, err
	}
	k.State = state.KeyState(stateStr)
	k.StateChangedAt = fromUnixNano(stateChangedAt)
	k.CreatedAt = fromUnixNano(createdAt)
	k.LastUsedAt = timePtr(lastUsedAt)
	k.CooldownUntil = timePtr(cooldownUntil)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &k.Metadata); err != nil {
			return nil, fmt.Errorf("decoding key metadata: %w", err)
		}
	}
	return &k, nil
}

func scanQuota(row rowScanner) (*state.QuotaState, error) {
	var (
		qs              state.QuotaState
		capacityState   string
		unit            string
		remaining       string
		total           sql.NullInt64
		tokensRemaining sql.NullString
		tokensTotal     sql.NullInt64
		window          string
		customWindow    int64
		resetAt         int64
		updatedAt       int64
	)
	err := row.Scan(&qs.ID, &qs.KeyID, &capacityState, &unit, &remaining, &total, &qs.Used,
		&tokensRemaining, &tokensTotal, &qs.TokensUsed, &window, &customWindow, &resetAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	qs.CapacityState = state.CapacityState(capacityState)
	qs.Unit = state.CapacityUnit(unit)
	if err := json.Unmarshal([]byte(remaining), &qs.Remaining); err != nil {
		return nil, fmt.Errorf("decoding remaining estimate: %w", err)
	}
	if total.Valid {
		v := total.Int64
		qs.Total = &v
	}
	if tokensRemaining.Valid && tokensRemaining.String != "" {
		var est state.CapacityEstimate
		if err := json.Unmarshal([]byte(tokensRemaining.String), &est); err != nil {
			return nil, fmt.Errorf("decoding tokens remaining estimate: %w", err)
		}
		qs.TokensRemaining = &est
	}
	if tokensTotal.Valid {
		v := tokensTotal.Int64
		qs.TokensTotal = &v
	}
	qs.Window = state.TimeWindow(window)
	qs.CustomWindow = time.Duration(customWindow)
	qs.ResetAt = fromUnixNano(resetAt)
	qs.UpdatedAt = fromUnixNano(updatedAt)
	return &qs, nil
}

func scanDecision(row rowScanner) (*state.RoutingDecision, error) {
	var (
		d            state.RoutingDecision
		timestamp    int64
		objective    string
		eligible     string
		scores       string
		alternatives sql.NullString
	)
	err := row.Scan(&d.ID, &d.RequestID, &d.CorrelationID, &d.SelectedKeyID, &d.SelectedProviderID,
		&timestamp, &objective, &eligible, &scores, &d.Explanation, &d.Confidence, &alternatives)
	if err != nil {
		return nil, err
	}
	d.Timestamp = fromUnixNano(timestamp)
	if err := json.Unmarshal([]byte(objective), &d.Objective); err != nil {
		return nil, fmt.Errorf("decoding objective: %w", err)
	}
	if err := json.Unmarshal([]byte(eligible), &d.EligibleKeys); err != nil {
		return nil, fmt.Errorf("decoding eligible keys: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &d.Scores); err != nil {
		return nil, fmt.Errorf("decoding scores: %w", err)
	}
	if alternatives.Valid && alternatives.String != "" {
		if err := json.Unmarshal([]byte(alternatives.String), &d.Alternatives); err != nil {
			return nil, fmt.Errorf("decoding alternatives: %w", err)
		}
	}
	return &d, nil
}

func scanTransition(row rowScanner) (*state.StateTransition, error) {
	var (
		tr         state.StateTransition
		entityType string
		timestamp  int64
		contextStr sql.NullString
	)
	err := row.Scan(&tr.ID, &entityType, &tr.EntityID, &tr.FromState, &tr.ToState,
		&timestamp, &tr.Trigger, &contextStr)
	if err != nil {
		return nil, err
	}
	tr.EntityType = state.EntityType(entityType)
	tr.Timestamp = fromUnixNano(timestamp)
	if contextStr.Valid && contextStr.String != "" {
		if err := json.Unmarshal([]byte(contextStr.String), &tr.Context); err != nil {
			return nil, fmt.Errorf("decoding transition context: %w", err)
		}
	}
	return &tr, nil
}

// ====================================================================
// SQL helpers
// ====================================================================

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

func limitClause(q state.Query) string {
	if q.Limit <= 0 && q.Offset <= 0 {
		return ""
	}
	limit := q.Limit
	if limit <= 0 {
		// SQLite requires LIMIT before OFFSET; -1 means unlimited.
		limit = -1
	}
	if q.Offset > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, q.Offset)
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func appendTimeBounds(where []string, args []any, column string, q state.Query) ([]string, []any) {
	if !q.Since.IsZero() {
		where = append(where, column+" >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, column+" <= ?")
		args = append(args, q.Until.UnixNano())
	}
	return where, args
}

func marshalNullable(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnixNano(v.Int64)
	return &t
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
