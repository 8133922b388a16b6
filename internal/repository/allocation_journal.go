package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/DEVa-26/Disaster/internal/models"

	"go.uber.org/zap"
)

// AllocationJournal 分配持久化接口
type AllocationJournal interface {
	// Persist 在一个数据库事务中写入库存变化和记录（record 可为 nil，如补货）
	Persist(ctx context.Context, record *models.AllocationRecord, changes []models.InventoryChange) error
	LoadInventory(ctx context.Context) ([]models.InventoryEntry, error)
	LoadRecords(ctx context.Context) ([]*models.AllocationRecord, error)
}

// PostgresJournal 基于 PostgreSQL 的分配持久化
// inventory 保存计数，allocation_records 保存只追加的流水（seq 保证插入顺序）
type PostgresJournal struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresJournal 创建 PostgreSQL 持久化
func NewPostgresJournal(db *sql.DB, logger *zap.Logger) *PostgresJournal {
	return &PostgresJournal{
		db:     db,
		logger: logger,
	}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		region        VARCHAR(100) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		available     INTEGER NOT NULL DEFAULT 0 CHECK (available >= 0),
		reserved      INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0),
		total         INTEGER NOT NULL DEFAULT 0,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (region, resource_type),
		CHECK (available + reserved = total)
	)`,
	`CREATE TABLE IF NOT EXISTS allocation_records (
		seq               BIGSERIAL PRIMARY KEY,
		record_id         VARCHAR(64) NOT NULL UNIQUE,
		incident_id       VARCHAR(255) NOT NULL,
		kind              VARCHAR(20) NOT NULL,
		disaster_type     VARCHAR(50) NOT NULL,
		severity          VARCHAR(20) NOT NULL,
		region            VARCHAR(100) NOT NULL,
		requested         JSONB NOT NULL DEFAULT '{}',
		granted           JSONB NOT NULL DEFAULT '{}',
		status            VARCHAR(20) NOT NULL,
		source_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_allocation_records_incident_kind
		ON allocation_records (incident_id, kind)`,
}

// EnsureSchema 创建表（已存在则跳过）
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Persist 计数变化与流水记录在同一事务中提交
func (j *PostgresJournal) Persist(ctx context.Context, record *models.AllocationRecord, changes []models.InventoryChange) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. 计数变化（增量更新，新 key 从 0 开始）
	for _, c := range changes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inventory (region, resource_type, available, reserved, total, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (region, resource_type) DO UPDATE SET
				available = inventory.available + EXCLUDED.available,
				reserved = inventory.reserved + EXCLUDED.reserved,
				total = inventory.total + EXCLUDED.total,
				updated_at = NOW()
		`, c.Region, string(c.ResourceType), c.AvailableDiff, c.ReservedDiff, c.TotalDiff)
		if err != nil {
			return fmt.Errorf("failed to update inventory %s/%s: %w", c.Region, c.ResourceType, err)
		}
	}

	// 2. 流水记录
	if record != nil {
		requestedJSON, err := json.Marshal(quantitiesOrEmpty(record.Requested))
		if err != nil {
			return fmt.Errorf("failed to marshal requested: %w", err)
		}
		grantedJSON, err := json.Marshal(quantitiesOrEmpty(record.Granted))
		if err != nil {
			return fmt.Errorf("failed to marshal granted: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO allocation_records (
				record_id, incident_id, kind, disaster_type, severity, region,
				requested, granted, status, source_confidence, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			record.RecordID,
			record.IncidentID,
			string(record.Kind),
			string(record.DisasterType),
			record.Severity.String(),
			record.Region,
			requestedJSON,
			grantedJSON,
			string(record.Status),
			record.SourceConfidence,
			record.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert allocation record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadInventory 读取全部库存计数
func (j *PostgresJournal) LoadInventory(ctx context.Context) ([]models.InventoryEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT region, resource_type, available, reserved, total
		FROM inventory
		ORDER BY region, resource_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var entries []models.InventoryEntry
	for rows.Next() {
		var e models.InventoryEntry
		var rt string
		if err := rows.Scan(&e.Region, &rt, &e.Available, &e.Reserved, &e.Total); err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		e.ResourceType = models.ResourceType(rt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inventory: %w", err)
	}
	return entries, nil
}

// LoadRecords 按插入顺序读取全部流水
func (j *PostgresJournal) LoadRecords(ctx context.Context) ([]*models.AllocationRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT
			record_id, incident_id, kind, disaster_type, severity, region,
			requested, granted, status, source_confidence, created_at
		FROM allocation_records
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation records: %w", err)
	}
	defer rows.Close()

	var records []*models.AllocationRecord
	for rows.Next() {
		var r models.AllocationRecord
		var kind, disasterType, severity, status string
		var requestedJSON, grantedJSON []byte
		if err := rows.Scan(
			&r.RecordID,
			&r.IncidentID,
			&kind,
			&disasterType,
			&severity,
			&r.Region,
			&requestedJSON,
			&grantedJSON,
			&status,
			&r.SourceConfidence,
			&r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan allocation record: %w", err)
		}

		r.Kind = models.RecordKind(kind)
		r.Status = models.Status(status)
		dt, ok := models.LookupDisasterType(disasterType)
		if !ok {
			return nil, fmt.Errorf("record %s has unknown disaster type %q", r.RecordID, disasterType)
		}
		r.DisasterType = dt
		if r.Severity, err = models.ParseSeverity(severity); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.RecordID, err)
		}
		if err := json.Unmarshal(requestedJSON, &r.Requested); err != nil {
			return nil, fmt.Errorf("failed to unmarshal requested for %s: %w", r.RecordID, err)
		}
		if err := json.Unmarshal(grantedJSON, &r.Granted); err != nil {
			return nil, fmt.Errorf("failed to unmarshal granted for %s: %w", r.RecordID, err)
		}
		if r.Granted == nil {
			r.Granted = models.Quantities{}
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate allocation records: %w", err)
	}

	j.logger.Info("Allocation records loaded", zap.Int("count", len(records)))
	return records, nil
}

func quantitiesOrEmpty(q models.Quantities) models.Quantities {
	if q == nil {
		return models.Quantities{}
	}
	return q
}
