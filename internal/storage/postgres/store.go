package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/internal/storage"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// PostgresConfig holds configuration for the Postgres-backed store
type PostgresConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	SSLMode         string        `json:"ssl_mode" yaml:"ssl_mode"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// PostgresStore implements the Store interface on PostgreSQL. Versions live
// in a keyed table; deployment records and alert events are append-only
// tables whose ids come from a sequence, so deployment ids stay monotonic
// across restarts.
type PostgresStore struct {
	config *PostgresConfig
	db     *sql.DB
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewPostgresStore creates a new Postgres store instance
func NewPostgresStore(config *PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	if config == nil {
		return nil, errors.NewStorageError("INVALID_CONFIG", "Postgres config cannot be nil")
	}
	if config.Database == "" {
		return nil, errors.NewStorageError("INVALID_CONFIG", "Postgres database name is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}

	return &PostgresStore{config: config, logger: logger}, nil
}

// Connect establishes connection and initializes the schema
func (p *PostgresStore) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.config.Host,
		p.config.Port,
		p.config.Username,
		p.config.Password,
		p.config.Database,
		p.config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "CONNECTION_FAILED", "Failed to open database connection")
	}

	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxIdleConns)
	db.SetConnMaxLifetime(p.config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Failed to ping database")
	}

	p.db = db

	if err := p.initializeSchema(ctx); err != nil {
		db.Close()
		p.db = nil
		return errors.WrapError(err, errors.ErrorTypeStorage, "SCHEMA_INIT_FAILED", "Failed to initialize schema")
	}

	p.logger.WithFields(logrus.Fields{
		"host":     p.config.Host,
		"port":     p.config.Port,
		"database": p.config.Database,
	}).Info("Connected to Postgres store")

	return nil
}

// Close closes the database connection
func (p *PostgresStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}

	err := p.db.Close()
	p.db = nil
	p.closed = true
	return err
}

// Ping tests the connection
func (p *PostgresStore) Ping(ctx context.Context) error {
	db, err := p.conn()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "database unreachable")
	}
	return nil
}

func (p *PostgresStore) conn() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "store is not connected")
	}
	return p.db, nil
}

func (p *PostgresStore) initializeSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS model_versions (
			model_name       TEXT NOT NULL,
			major            INT NOT NULL,
			minor            INT NOT NULL,
			patch            INT NOT NULL,
			artifact_ref     TEXT NOT NULL,
			model_kind       TEXT NOT NULL DEFAULT '',
			description      TEXT NOT NULL DEFAULT '',
			tags             TEXT[] NOT NULL DEFAULT '{}',
			training_metrics JSONB NOT NULL DEFAULT '{}',
			status           TEXT NOT NULL,
			created_by       TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (model_name, major, minor, patch)
		)`,
		`CREATE TABLE IF NOT EXISTS deployment_records (
			id              BIGSERIAL PRIMARY KEY,
			model_name      TEXT NOT NULL,
			target_version  TEXT NOT NULL,
			previous_active TEXT,
			mode            TEXT NOT NULL,
			state           TEXT NOT NULL,
			is_rollback     BOOLEAN NOT NULL DEFAULT FALSE,
			requested_by    TEXT NOT NULL DEFAULT '',
			description     TEXT NOT NULL DEFAULT '',
			requested_at    TIMESTAMPTZ NOT NULL,
			activated_at    TIMESTAMPTZ,
			rolled_back_at  TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deployment_records_model
			ON deployment_records (model_name, id DESC)`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id               TEXT PRIMARY KEY,
			alert_name       TEXT NOT NULL,
			model_name       TEXT NOT NULL,
			metric_name      TEXT NOT NULL,
			severity         TEXT NOT NULL,
			window_start     TIMESTAMPTZ NOT NULL,
			window_end       TIMESTAMPTZ NOT NULL,
			triggering_value DOUBLE PRECISION NOT NULL,
			deployment_id    BIGINT NOT NULL,
			emitted_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_deployment
			ON alert_events (deployment_id, emitted_at DESC)`,
		`CREATE TABLE IF NOT EXISTS retrain_requests (
			id             TEXT PRIMARY KEY,
			model_name     TEXT NOT NULL,
			reason         TEXT NOT NULL,
			alert_ids      TEXT[] NOT NULL DEFAULT '{}',
			requested_at   TIMESTAMPTZ NOT NULL,
			status         TEXT NOT NULL,
			result_version TEXT,
			updated_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_retrain_requests_model
			ON retrain_requests (model_name, requested_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// PutVersion stores a new version record
func (p *PostgresStore) PutVersion(ctx context.Context, version *models.ModelVersion) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	metricsJSON, err := json.Marshal(version.TrainingMetrics)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "ENCODE_FAILED", "failed to encode training metrics")
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO model_versions
			(model_name, major, minor, patch, artifact_ref, model_kind, description, tags, training_metrics, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		version.ModelName, version.Version.Major, version.Version.Minor, version.Version.Patch,
		version.ArtifactRef, version.ModelKind, version.Description,
		pq.Array(version.Tags), metricsJSON, string(version.Status), version.CreatedBy, version.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewValidationError("DUPLICATE_VERSION",
				"version "+version.Version.String()+" already exists for model "+version.ModelName)
		}
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to insert model version")
	}
	return nil
}

// GetVersion reads a version by identity
func (p *PostgresStore) GetVersion(ctx context.Context, modelName string, version models.SemanticVersion) (*models.ModelVersion, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT model_name, major, minor, patch, artifact_ref, model_kind, description, tags, training_metrics, status, created_by, created_at
		FROM model_versions
		WHERE model_name = $1 AND major = $2 AND minor = $3 AND patch = $4`,
		modelName, version.Major, version.Minor, version.Patch,
	)

	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("VERSION_NOT_FOUND",
			"version "+version.String()+" not found for model "+modelName)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to read model version")
	}
	return v, nil
}

// ListVersions returns a snapshot ordered by semantic version descending
func (p *PostgresStore) ListVersions(ctx context.Context, modelName string) ([]*models.ModelVersion, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT model_name, major, minor, patch, artifact_ref, model_kind, description, tags, training_metrics, status, created_by, created_at
		FROM model_versions
		WHERE model_name = $1
		ORDER BY major DESC, minor DESC, patch DESC`,
		modelName,
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to list model versions")
	}
	defer rows.Close()

	var out []*models.ModelVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "SCAN_FAILED", "failed to scan model version")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to iterate model versions")
	}
	return out, nil
}

// UpdateVersionStatus changes the lifecycle status of a version
func (p *PostgresStore) UpdateVersionStatus(ctx context.Context, modelName string, version models.SemanticVersion, status models.VersionStatus) error {
	return p.updateVersion(ctx, modelName, version,
		`UPDATE model_versions SET status = $5
		WHERE model_name = $1 AND major = $2 AND minor = $3 AND patch = $4`,
		string(status))
}

// UpdateVersionTags replaces the tag set of a version
func (p *PostgresStore) UpdateVersionTags(ctx context.Context, modelName string, version models.SemanticVersion, tags []string) error {
	return p.updateVersion(ctx, modelName, version,
		`UPDATE model_versions SET tags = $5
		WHERE model_name = $1 AND major = $2 AND minor = $3 AND patch = $4`,
		pq.Array(tags))
}

func (p *PostgresStore) updateVersion(ctx context.Context, modelName string, version models.SemanticVersion, query string, arg interface{}) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, query, modelName, version.Major, version.Minor, version.Patch, arg)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to update model version")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("VERSION_NOT_FOUND",
			"version "+version.String()+" not found for model "+modelName)
	}
	return nil
}

// DeleteVersion removes a version record
func (p *PostgresStore) DeleteVersion(ctx context.Context, modelName string, version models.SemanticVersion) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx,
		`DELETE FROM model_versions
		WHERE model_name = $1 AND major = $2 AND minor = $3 AND patch = $4`,
		modelName, version.Major, version.Minor, version.Patch,
	)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "DELETE_FAILED", "failed to delete model version")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("VERSION_NOT_FOUND",
			"version "+version.String()+" not found for model "+modelName)
	}
	return nil
}

// AppendDeployment appends a record, assigning the next deployment id
func (p *PostgresStore) AppendDeployment(ctx context.Context, record *models.DeploymentRecord) (*models.DeploymentRecord, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	var prev sql.NullString
	if record.PreviousActive != nil {
		prev = sql.NullString{String: record.PreviousActive.String(), Valid: true}
	}

	stored := record.Clone()
	err = db.QueryRowContext(ctx,
		`INSERT INTO deployment_records
			(model_name, target_version, previous_active, mode, state, is_rollback, requested_by, description, requested_at, activated_at, rolled_back_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		record.ModelName, record.Target.String(), prev, string(record.Mode), string(record.State),
		record.Rollback, record.RequestedBy, record.Description,
		record.RequestedAt, record.ActivatedAt, record.RolledBackAt,
	).Scan(&stored.ID)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to append deployment record")
	}
	return stored, nil
}

// GetDeployment reads a record by id
func (p *PostgresStore) GetDeployment(ctx context.Context, id int64) (*models.DeploymentRecord, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, deploymentSelect+` WHERE id = $1`, id)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("DEPLOYMENT_NOT_FOUND", "deployment not found")
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to read deployment record")
	}
	return d, nil
}

// ListDeployments returns the log for a model, newest first
func (p *PostgresStore) ListDeployments(ctx context.Context, modelName string) ([]*models.DeploymentRecord, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		deploymentSelect+` WHERE model_name = $1 ORDER BY id DESC`, modelName)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to list deployment records")
	}
	defer rows.Close()

	var out []*models.DeploymentRecord
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "SCAN_FAILED", "failed to scan deployment record")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to iterate deployment records")
	}
	return out, nil
}

// LatestActive returns the most recent live record still active, or nil
func (p *PostgresStore) LatestActive(ctx context.Context, modelName string) (*models.DeploymentRecord, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		deploymentSelect+` WHERE model_name = $1 AND mode = $2 AND state = $3 ORDER BY id DESC LIMIT 1`,
		modelName, string(models.ModeLive), string(models.DeploymentActive))
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to read active deployment")
	}
	return d, nil
}

// UpdateDeploymentState advances a record's state
func (p *PostgresStore) UpdateDeploymentState(ctx context.Context, id int64, state models.DeploymentState, at time.Time) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	var res sql.Result
	if state == models.DeploymentRolledBack {
		res, err = db.ExecContext(ctx,
			`UPDATE deployment_records SET state = $2, rolled_back_at = $3 WHERE id = $1`,
			id, string(state), at)
	} else {
		res, err = db.ExecContext(ctx,
			`UPDATE deployment_records SET state = $2 WHERE id = $1`,
			id, string(state))
	}
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to update deployment state")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("DEPLOYMENT_NOT_FOUND", "deployment not found")
	}
	return nil
}

// AppendAlert appends an immutable alert event
func (p *PostgresStore) AppendAlert(ctx context.Context, event *models.AlertEvent) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO alert_events
			(id, alert_name, model_name, metric_name, severity, window_start, window_end, triggering_value, deployment_id, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.AlertName, event.ModelName, event.MetricName, string(event.Severity),
		event.WindowStart, event.WindowEnd, event.TriggeringValue, event.DeploymentID, event.EmittedAt,
	)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to append alert event")
	}
	return nil
}

// ListAlerts returns events for a deployment, newest first
func (p *PostgresStore) ListAlerts(ctx context.Context, deploymentID int64) ([]*models.AlertEvent, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, alert_name, model_name, metric_name, severity, window_start, window_end, triggering_value, deployment_id, emitted_at
		FROM alert_events
		WHERE deployment_id = $1
		ORDER BY emitted_at DESC`,
		deploymentID,
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to list alert events")
	}
	defer rows.Close()

	var out []*models.AlertEvent
	for rows.Next() {
		var e models.AlertEvent
		var severity string
		if err := rows.Scan(&e.ID, &e.AlertName, &e.ModelName, &e.MetricName, &severity,
			&e.WindowStart, &e.WindowEnd, &e.TriggeringValue, &e.DeploymentID, &e.EmittedAt); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "SCAN_FAILED", "failed to scan alert event")
		}
		e.Severity = models.AlertSeverity(severity)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to iterate alert events")
	}
	return out, nil
}

// PutRetrainRequest stores a new request
func (p *PostgresStore) PutRetrainRequest(ctx context.Context, request *models.RetrainRequest) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	var result sql.NullString
	if request.ResultVersion != nil {
		result = sql.NullString{String: request.ResultVersion.String(), Valid: true}
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO retrain_requests
			(id, model_name, reason, alert_ids, requested_at, status, result_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		request.ID, request.ModelName, request.Reason, pq.Array(request.TriggeringAlertIDs),
		request.RequestedAt, string(request.Status), result, request.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewValidationError("DUPLICATE_REQUEST", "retrain request already exists")
		}
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to insert retrain request")
	}
	return nil
}

// GetRetrainRequest reads a request by id
func (p *PostgresStore) GetRetrainRequest(ctx context.Context, id string) (*models.RetrainRequest, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT id, model_name, reason, alert_ids, requested_at, status, result_version, updated_at
		FROM retrain_requests WHERE id = $1`, id)
	r, err := scanRetrain(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("REQUEST_NOT_FOUND", "retrain request not found")
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to read retrain request")
	}
	return r, nil
}

// UpdateRetrainRequest advances a request's status and optional result
func (p *PostgresStore) UpdateRetrainRequest(ctx context.Context, id string, status models.RetrainStatus, result *models.SemanticVersion) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	var resultStr sql.NullString
	if result != nil {
		resultStr = sql.NullString{String: result.String(), Valid: true}
	}

	res, err := db.ExecContext(ctx,
		`UPDATE retrain_requests
		SET status = $2, result_version = COALESCE($3, result_version), updated_at = $4
		WHERE id = $1`,
		id, string(status), resultStr, time.Now().UTC())
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to update retrain request")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("REQUEST_NOT_FOUND", "retrain request not found")
	}
	return nil
}

// ListRetrainRequests returns requests for a model, newest first
func (p *PostgresStore) ListRetrainRequests(ctx context.Context, modelName string, openOnly bool) ([]*models.RetrainRequest, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT id, model_name, reason, alert_ids, requested_at, status, result_version, updated_at
		FROM retrain_requests WHERE model_name = $1`
	args := []interface{}{modelName}
	if openOnly {
		query += ` AND status NOT IN ($2, $3)`
		args = append(args, string(models.RetrainCompleted), string(models.RetrainRejected))
	}
	query += ` ORDER BY requested_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to list retrain requests")
	}
	defer rows.Close()

	var out []*models.RetrainRequest
	for rows.Next() {
		r, err := scanRetrain(rows)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "SCAN_FAILED", "failed to scan retrain request")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to iterate retrain requests")
	}
	return out, nil
}

const deploymentSelect = `SELECT id, model_name, target_version, previous_active, mode, state, is_rollback, requested_by, description, requested_at, activated_at, rolled_back_at
	FROM deployment_records`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (*models.ModelVersion, error) {
	var v models.ModelVersion
	var tags pq.StringArray
	var metricsJSON []byte
	var status string

	err := row.Scan(&v.ModelName, &v.Version.Major, &v.Version.Minor, &v.Version.Patch,
		&v.ArtifactRef, &v.ModelKind, &v.Description, &tags, &metricsJSON, &status,
		&v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}

	v.Tags = []string(tags)
	v.Status = models.VersionStatus(status)
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &v.TrainingMetrics); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func scanDeployment(row rowScanner) (*models.DeploymentRecord, error) {
	var d models.DeploymentRecord
	var target string
	var prev sql.NullString
	var mode, state string
	var activatedAt, rolledBackAt sql.NullTime

	err := row.Scan(&d.ID, &d.ModelName, &target, &prev, &mode, &state, &d.Rollback,
		&d.RequestedBy, &d.Description, &d.RequestedAt, &activatedAt, &rolledBackAt)
	if err != nil {
		return nil, err
	}

	d.Target, err = models.ParseSemanticVersion(target)
	if err != nil {
		return nil, err
	}
	if prev.Valid {
		pv, err := models.ParseSemanticVersion(prev.String)
		if err != nil {
			return nil, err
		}
		d.PreviousActive = &pv
	}
	d.Mode = models.DeploymentMode(mode)
	d.State = models.DeploymentState(state)
	if activatedAt.Valid {
		t := activatedAt.Time
		d.ActivatedAt = &t
	}
	if rolledBackAt.Valid {
		t := rolledBackAt.Time
		d.RolledBackAt = &t
	}
	return &d, nil
}

func scanRetrain(row rowScanner) (*models.RetrainRequest, error) {
	var r models.RetrainRequest
	var alertIDs pq.StringArray
	var status string
	var result sql.NullString

	err := row.Scan(&r.ID, &r.ModelName, &r.Reason, &alertIDs, &r.RequestedAt, &status, &result, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.TriggeringAlertIDs = []string(alertIDs)
	r.Status = models.RetrainStatus(status)
	if result.Valid {
		v, err := models.ParseSemanticVersion(result.String)
		if err != nil {
			return nil, err
		}
		r.ResultVersion = &v
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

var _ storage.Store = (*PostgresStore)(nil)
