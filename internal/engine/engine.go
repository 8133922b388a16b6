package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DEVa-26/Disaster/internal/inventory"
	"github.com/DEVa-26/Disaster/internal/ledger"
	"github.com/DEVa-26/Disaster/internal/models"
	"github.com/DEVa-26/Disaster/internal/policy"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Journal 持久化一次事务（计数变化 + 记录）；在库存锁内调用
type Journal interface {
	Persist(ctx context.Context, record *models.AllocationRecord, changes []models.InventoryChange) error
}

// Publisher 分配结果通知；在事务提交后、锁外调用
type Publisher interface {
	Publish(ctx context.Context, record *models.AllocationRecord) error
}

// Options 引擎配置
type Options struct {
	DefaultRegion string
	RegionAliases map[string]string // 地名 -> 区域编码（不区分大小写）
	LockTimeout   time.Duration     // 单次等锁时间
	MaxRetries    int               // 锁竞争重试次数
	RetryBackoff  time.Duration

	// OperationTimeout 合并执行的整体时限，与任何单个调用方的 ctx 无关
	OperationTimeout time.Duration

	Journal   Journal   // 可选
	Publisher Publisher // 可选
	Now       func() time.Time
}

// Engine 分配引擎：协调 Policy、Inventory Store 与 Ledger
// 自身不持有库存或流水状态
type Engine struct {
	store   *inventory.Store
	table   *policy.Table
	ledger  *ledger.Ledger
	opts    Options
	aliases map[string]string
	flight  singleflight.Group
	logger  *zap.Logger
}

// New 创建分配引擎
func New(store *inventory.Store, table *policy.Table, l *ledger.Ledger, opts Options, logger *zap.Logger) *Engine {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 200 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 20 * time.Millisecond
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	aliases := make(map[string]string, len(opts.RegionAliases))
	for place, region := range opts.RegionAliases {
		aliases[strings.ToLower(strings.TrimSpace(place))] = region
	}
	return &Engine{
		store:   store,
		table:   table,
		ledger:  l,
		opts:    opts,
		aliases: aliases,
		logger:  logger,
	}
}

// Allocate 为一个已分类的事件分配资源
// 同一 incidentID 再次调用返回首次的记录，不会重复预留；已释放的事件返回 ErrAlreadyReleased
func (e *Engine) Allocate(ctx context.Context, req models.IncidentRequest) (*models.AllocationRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 同一事件的并发请求合并为一次执行
	return e.shared(ctx, "allocate/"+req.IncidentID, func(workCtx context.Context) (*models.AllocationRecord, error) {
		return e.allocate(workCtx, req)
	})
}

// shared 合并同一 key 的并发调用
// 合并执行不随任一调用方取消：调用方放弃只影响自己，已开始的事务照常提交或回滚
func (e *Engine) shared(ctx context.Context, key string, fn func(context.Context) (*models.AllocationRecord, error)) (*models.AllocationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := e.flight.DoChan(key, func() (interface{}, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.OperationTimeout)
		defer cancel()
		return fn(workCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", models.ErrAllocationTimeout, res.Err)
			}
			return nil, res.Err
		}
		rec := res.Val.(*models.AllocationRecord)
		if res.Shared {
			rec = rec.Clone()
		}
		return rec, nil
	}
}

func (e *Engine) allocate(ctx context.Context, req models.IncidentRequest) (*models.AllocationRecord, error) {
	// 1. 幂等重放
	if entry, ok := e.ledger.Lookup(req.IncidentID); ok {
		if entry.Released {
			return nil, fmt.Errorf("%w: %s", models.ErrAlreadyReleased, req.IncidentID)
		}
		e.logger.Debug("Allocation replayed",
			zap.String("incident_id", req.IncidentID),
			zap.String("record_id", entry.Record.RecordID),
		)
		return entry.Record, nil
	}

	// 2. 解析区域
	region, err := e.ResolveRegion(req.Location)
	if err != nil {
		return nil, err
	}

	// 3. 需求
	demand := e.table.Decide(req.DisasterType, req.Severity)

	// 4. 预留（持有锁直到记录写入流水）
	txn, err := e.begin(ctx, region, demand.Types())
	if err != nil {
		return nil, fmt.Errorf("allocate %s: %w", req.IncidentID, err)
	}
	granted, err := txn.Reserve(demand)
	if err != nil {
		txn.Rollback()
		return nil, err
	}

	// 5. 结果
	rec := &models.AllocationRecord{
		RecordID:         uuid.NewString(),
		IncidentID:       req.IncidentID,
		Kind:             models.KindAllocation,
		DisasterType:     req.DisasterType,
		Severity:         req.Severity,
		Region:           region,
		Requested:        demand,
		Granted:          granted,
		Status:           models.DecideStatus(demand, granted),
		SourceConfidence: req.SourceConfidence,
		Timestamp:        e.opts.Now(),
	}

	// 6. 写入流水后才提交库存
	if err := e.record(ctx, txn, rec); err != nil {
		return nil, err
	}
	txn.Commit()

	e.logger.Info("Allocation recorded",
		zap.String("incident_id", rec.IncidentID),
		zap.String("region", rec.Region),
		zap.String("disaster_type", string(rec.DisasterType)),
		zap.String("severity", rec.Severity.String()),
		zap.String("status", string(rec.Status)),
		zap.Float64("source_confidence", rec.SourceConfidence),
	)
	e.publish(ctx, rec)
	return rec.Clone(), nil
}

// Release 释放事件已分配的资源，追加一条补偿记录并把事件标记为已释放
func (e *Engine) Release(ctx context.Context, incidentID string) (*models.AllocationRecord, error) {
	if strings.TrimSpace(incidentID) == "" {
		return nil, fmt.Errorf("%w: incident_id is required", models.ErrInvalidRequest)
	}
	return e.shared(ctx, "release/"+incidentID, func(workCtx context.Context) (*models.AllocationRecord, error) {
		return e.release(workCtx, incidentID)
	})
}

func (e *Engine) release(ctx context.Context, incidentID string) (*models.AllocationRecord, error) {
	entry, ok := e.ledger.Lookup(incidentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrIncidentNotFound, incidentID)
	}
	if entry.Released {
		return nil, fmt.Errorf("%w: %s", models.ErrAlreadyReleased, incidentID)
	}
	orig := entry.Record

	txn, err := e.begin(ctx, orig.Region, orig.Granted.Types())
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", incidentID, err)
	}
	if err := txn.Release(orig.Granted); err != nil {
		txn.Rollback()
		return nil, err
	}

	rec := &models.AllocationRecord{
		RecordID:         uuid.NewString(),
		IncidentID:       incidentID,
		Kind:             models.KindRelease,
		DisasterType:     orig.DisasterType,
		Severity:         orig.Severity,
		Region:           orig.Region,
		Requested:        orig.Granted.Clone(),
		Granted:          orig.Granted.Clone(),
		Status:           models.StatusReleased,
		SourceConfidence: orig.SourceConfidence,
		Timestamp:        e.opts.Now(),
	}
	if err := e.record(ctx, txn, rec); err != nil {
		return nil, err
	}
	txn.Commit()

	e.logger.Info("Allocation released",
		zap.String("incident_id", incidentID),
		zap.String("region", rec.Region),
		zap.Int("units", rec.Granted.Total()),
	)
	e.publish(ctx, rec)
	return rec.Clone(), nil
}

// Query 只读查询流水（插入顺序）
func (e *Engine) Query(filter models.QueryFilter) []*models.AllocationRecord {
	return e.ledger.Query(filter)
}

// Inventory 当前库存快照
func (e *Engine) Inventory() []models.InventoryEntry {
	return e.store.Snapshot()
}

// Provision 调整 (region, resourceType) 的总容量，并写入持久化
func (e *Engine) Provision(ctx context.Context, region string, rt models.ResourceType, totalDelta int) (models.InventoryEntry, error) {
	if err := e.store.Prepare(region, rt, totalDelta); err != nil {
		return models.InventoryEntry{}, err
	}
	// 新建的 key 在提交前对外不可见，持久化失败时不会留下未落库的区域
	txn, err := e.retry(ctx, region, func(lockCtx context.Context) (*inventory.Txn, error) {
		return e.store.BeginProvision(lockCtx, region, rt)
	})
	if err != nil {
		return models.InventoryEntry{}, fmt.Errorf("provision %s/%s: %w", region, rt, err)
	}
	if err := txn.Provision(rt, totalDelta); err != nil {
		txn.Rollback()
		return models.InventoryEntry{}, err
	}
	if e.opts.Journal != nil {
		if err := e.opts.Journal.Persist(ctx, nil, txn.Changes()); err != nil {
			txn.Rollback()
			return models.InventoryEntry{}, fmt.Errorf("failed to persist provisioning: %w", err)
		}
	}
	out := txn.Entry(rt)
	txn.Commit()

	e.logger.Info("Inventory provisioned",
		zap.String("region", region),
		zap.String("resource_type", string(rt)),
		zap.Int("total_delta", totalDelta),
		zap.Int("total", out.Total),
	)
	return out, nil
}

// ApplySeed 按初始库存文件补货（经由 Provision，因此同样会持久化）
func (e *Engine) ApplySeed(ctx context.Context, seed inventory.Seed) error {
	for region, counts := range seed {
		for _, rt := range counts.Types() {
			if _, err := e.Provision(ctx, region, rt, counts[rt]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Restore 启动时从持久化恢复库存与流水
func (e *Engine) Restore(entries []models.InventoryEntry, records []*models.AllocationRecord) error {
	if err := e.store.Load(entries); err != nil {
		return err
	}
	return e.ledger.Load(records)
}

// ResolveRegion 把请求中的地名/区域编码解析为已配置的区域
// 1. 为空 -> 默认区域
// 2. 已配置的区域编码（不区分大小写）
// 3. 地名别名
// 4. 无法识别 -> 默认区域
// 没有默认区域时返回 ErrUnresolvedRegion
func (e *Engine) ResolveRegion(location string) (string, error) {
	loc := strings.TrimSpace(location)
	if loc != "" {
		if e.store.HasRegion(loc) {
			return loc, nil
		}
		for _, region := range e.store.Regions() {
			if strings.EqualFold(region, loc) {
				return region, nil
			}
		}
		if region, ok := e.aliases[strings.ToLower(loc)]; ok {
			return region, nil
		}
	}
	if e.opts.DefaultRegion != "" {
		return e.opts.DefaultRegion, nil
	}
	if loc == "" {
		return "", fmt.Errorf("%w: no location and no default region", models.ErrUnresolvedRegion)
	}
	return "", fmt.Errorf("%w: unknown location %q and no default region", models.ErrUnresolvedRegion, loc)
}

// begin 获取库存锁；锁竞争时有限次重试，耗尽后返回 ErrAllocationTimeout
// 调用方 ctx 结束时返回 ctx 错误，不持有任何锁
func (e *Engine) begin(ctx context.Context, region string, types []models.ResourceType) (*inventory.Txn, error) {
	return e.retry(ctx, region, func(lockCtx context.Context) (*inventory.Txn, error) {
		return e.store.Begin(lockCtx, region, types)
	})
}

func (e *Engine) retry(ctx context.Context, region string, open func(context.Context) (*inventory.Txn, error)) (*inventory.Txn, error) {
	for attempt := 0; ; attempt++ {
		lockCtx, cancel := context.WithTimeout(ctx, e.opts.LockTimeout)
		txn, err := open(lockCtx)
		cancel()
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, models.ErrLockContention) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if attempt >= e.opts.MaxRetries {
			return nil, fmt.Errorf("%w: %s after %d attempts", models.ErrAllocationTimeout, region, attempt+1)
		}

		e.logger.Warn("Inventory lock contention, retrying",
			zap.String("region", region),
			zap.Int("attempt", attempt+1),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.opts.RetryBackoff * time.Duration(attempt+1)):
		}
	}
}

// record 在持有锁的情况下写入持久化与流水；失败时回滚库存
func (e *Engine) record(ctx context.Context, txn *inventory.Txn, rec *models.AllocationRecord) error {
	if e.opts.Journal != nil {
		if err := e.opts.Journal.Persist(ctx, rec, txn.Changes()); err != nil {
			txn.Rollback()
			e.logger.Error("Failed to persist allocation",
				zap.String("incident_id", rec.IncidentID),
				zap.String("kind", string(rec.Kind)),
				zap.Error(err),
			)
			return fmt.Errorf("failed to persist %s record for %s: %w", rec.Kind, rec.IncidentID, err)
		}
	}
	if err := e.ledger.Append(rec); err != nil {
		txn.Rollback()
		return err
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, rec *models.AllocationRecord) {
	if e.opts.Publisher == nil {
		return
	}
	// 调用方取消不影响已提交记录的通知
	if err := e.opts.Publisher.Publish(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("Failed to publish allocation",
			zap.String("incident_id", rec.IncidentID),
			zap.String("kind", string(rec.Kind)),
			zap.Error(err),
		)
	}
}
