package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/DEVa-26/Disaster/internal/models"

	"go.uber.org/zap"
)

// entry 单个 key 的计数，available/reserved 只在持有 lock 时读写
// live 为 false 表示 key 已创建但首次补货尚未提交，此时对外不可见
type entry struct {
	lock      keyLock
	available int
	reserved  int
	live      atomic.Bool
}

// regionBucket 一个区域下的所有资源类型
// mu 只保护 entries 这个 map 的结构（新增资源类型），不保护计数
type regionBucket struct {
	mu      sync.RWMutex
	entries map[models.ResourceType]*entry
}

// Store 库存存储：每个 (region, resourceType) 一把锁
// 不同区域/不同资源类型之间互不阻塞，没有全局锁
type Store struct {
	regions sync.Map // region -> *regionBucket
	logger  *zap.Logger
}

// NewStore 创建空库存
func NewStore(logger *zap.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) bucket(region string) (*regionBucket, bool) {
	v, ok := s.regions.Load(region)
	if !ok {
		return nil, false
	}
	return v.(*regionBucket), true
}

func (s *Store) getOrCreateBucket(region string) *regionBucket {
	v, _ := s.regions.LoadOrStore(region, &regionBucket{entries: map[models.ResourceType]*entry{}})
	return v.(*regionBucket)
}

func (b *regionBucket) get(rt models.ResourceType) (*entry, bool) {
	e, ok := b.lookup(rt)
	if !ok || !e.live.Load() {
		return nil, false
	}
	return e, true
}

// lookup 包含尚未提交的 key
func (b *regionBucket) lookup(rt models.ResourceType) (*entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[rt]
	return e, ok
}

func (b *regionBucket) getOrCreate(rt models.ResourceType) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[rt]
	if !ok {
		e = &entry{lock: newKeyLock()}
		b.entries[rt] = e
	}
	return e
}

func (b *regionBucket) types() []models.ResourceType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	types := make([]models.ResourceType, 0, len(b.entries))
	for t, e := range b.entries {
		if e.live.Load() {
			types = append(types, t)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// HasRegion 区域是否已配置（至少一个 key 已提交）
func (s *Store) HasRegion(region string) bool {
	b, ok := s.bucket(region)
	return ok && len(b.types()) > 0
}

// Regions 所有已配置区域（排序）
func (s *Store) Regions() []string {
	var regions []string
	s.regions.Range(func(k, v interface{}) bool {
		if len(v.(*regionBucket).types()) > 0 {
			regions = append(regions, k.(string))
		}
		return true
	})
	sort.Strings(regions)
	return regions
}

// Begin 按资源类型名称顺序获取 region 下指定 key 的锁，返回事务
// 任一 key 未配置 -> ErrUnknownResource（不持有任何锁）
// 等锁期间 ctx 结束 -> ErrLockContention（已获取的锁全部释放）
func (s *Store) Begin(ctx context.Context, region string, types []models.ResourceType) (*Txn, error) {
	return s.begin(ctx, region, types, false)
}

// BeginProvision 与 Begin 相同，但可以锁定 Prepare 新建、尚未提交的 key
// 事务提交后该 key 才对外可见；回滚则保持不可见
func (s *Store) BeginProvision(ctx context.Context, region string, rt models.ResourceType) (*Txn, error) {
	return s.begin(ctx, region, []models.ResourceType{rt}, true)
}

func (s *Store) begin(ctx context.Context, region string, types []models.ResourceType, includePending bool) (*Txn, error) {
	b, ok := s.bucket(region)
	if !ok {
		return nil, fmt.Errorf("%w: region %q", models.ErrUnknownResource, region)
	}

	order := dedupeSorted(types)
	entries := make(map[models.ResourceType]*entry, len(order))
	for _, rt := range order {
		var e *entry
		if includePending {
			e, ok = b.lookup(rt)
		} else {
			e, ok = b.get(rt)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", models.ErrUnknownResource, region, rt)
		}
		entries[rt] = e
	}

	// 固定顺序加锁，避免死锁
	for i, rt := range order {
		if err := entries[rt].lock.acquire(ctx); err != nil {
			for _, held := range order[:i] {
				entries[held].lock.unlock()
			}
			return nil, fmt.Errorf("%w: %s/%s: %v", models.ErrLockContention, region, rt, err)
		}
	}

	return &Txn{
		region:  region,
		order:   order,
		entries: entries,
		changes: make(map[models.ResourceType]*models.InventoryChange, len(order)),
	}, nil
}

// Reserve 单次调用原子：每种资源 granted = min(demand, available)
// 库存不足不报错（0 也是合法分配）；任一 key 未配置则整体失败且不做任何修改
func (s *Store) Reserve(ctx context.Context, region string, demand models.Quantities) (models.Quantities, error) {
	txn, err := s.Begin(ctx, region, demand.Types())
	if err != nil {
		return nil, err
	}
	granted, err := txn.Reserve(demand)
	if err != nil {
		txn.Rollback()
		return nil, err
	}
	txn.Commit()
	return granted, nil
}

// Release 把 amounts 从 reserved 移回 available
func (s *Store) Release(ctx context.Context, region string, amounts models.Quantities) error {
	txn, err := s.Begin(ctx, region, amounts.Types())
	if err != nil {
		return err
	}
	if err := txn.Release(amounts); err != nil {
		txn.Rollback()
		return err
	}
	txn.Commit()
	return nil
}

// Prepare 确保 (region, resourceType) 存在，便于随后 BeginProvision
// 新建的 key 在首次补货提交前不可见；totalDelta < 0 时不会新建 key
func (s *Store) Prepare(region string, rt models.ResourceType, totalDelta int) error {
	if region == "" || rt == "" {
		return fmt.Errorf("%w: region and resource type are required", models.ErrInvalidRequest)
	}
	if totalDelta < 0 {
		b, ok := s.bucket(region)
		if !ok {
			return fmt.Errorf("%w: region %q", models.ErrUnknownResource, region)
		}
		if _, ok := b.get(rt); !ok {
			return fmt.Errorf("%w: %s/%s", models.ErrUnknownResource, region, rt)
		}
		return nil
	}
	s.getOrCreateBucket(region).getOrCreate(rt)
	return nil
}

// Provision 调整总容量（补货 / 下调），返回调整后的计数
func (s *Store) Provision(ctx context.Context, region string, rt models.ResourceType, totalDelta int) (models.InventoryEntry, error) {
	if err := s.Prepare(region, rt, totalDelta); err != nil {
		return models.InventoryEntry{}, err
	}
	txn, err := s.BeginProvision(ctx, region, rt)
	if err != nil {
		return models.InventoryEntry{}, err
	}
	if err := txn.Provision(rt, totalDelta); err != nil {
		txn.Rollback()
		return models.InventoryEntry{}, err
	}
	out := txn.Entry(rt)
	txn.Commit()

	s.logger.Info("Inventory provisioned",
		zap.String("region", region),
		zap.String("resource_type", string(rt)),
		zap.Int("total_delta", totalDelta),
		zap.Int("total", out.Total),
	)
	return out, nil
}

// Entry 读取单个 key（等待该 key 上正在进行的事务结束）
func (s *Store) Entry(region string, rt models.ResourceType) (models.InventoryEntry, error) {
	b, ok := s.bucket(region)
	if !ok {
		return models.InventoryEntry{}, fmt.Errorf("%w: region %q", models.ErrUnknownResource, region)
	}
	e, ok := b.get(rt)
	if !ok {
		return models.InventoryEntry{}, fmt.Errorf("%w: %s/%s", models.ErrUnknownResource, region, rt)
	}
	return readEntry(region, rt, e), nil
}

// Snapshot 所有 key 的计数（按 region、resourceType 排序），逐 key 一致
func (s *Store) Snapshot() []models.InventoryEntry {
	var out []models.InventoryEntry
	for _, region := range s.Regions() {
		b, _ := s.bucket(region)
		for _, rt := range b.types() {
			e, ok := b.get(rt)
			if !ok {
				continue
			}
			out = append(out, readEntry(region, rt, e))
		}
	}
	return out
}

// Load 启动时从持久化恢复计数，覆盖已有值
func (s *Store) Load(entries []models.InventoryEntry) error {
	for _, in := range entries {
		if in.Available < 0 || in.Reserved < 0 || in.Available+in.Reserved != in.Total {
			return fmt.Errorf("%w: inconsistent inventory row %s/%s (available=%d reserved=%d total=%d)",
				models.ErrInvalidRequest, in.Region, in.ResourceType, in.Available, in.Reserved, in.Total)
		}
	}
	for _, in := range entries {
		e := s.getOrCreateBucket(in.Region).getOrCreate(in.ResourceType)
		e.lock.lock()
		e.available = in.Available
		e.reserved = in.Reserved
		e.live.Store(true)
		e.lock.unlock()
	}
	return nil
}

func readEntry(region string, rt models.ResourceType, e *entry) models.InventoryEntry {
	e.lock.lock()
	defer e.lock.unlock()
	return models.InventoryEntry{
		Region:       region,
		ResourceType: rt,
		Available:    e.available,
		Reserved:     e.reserved,
		Total:        e.available + e.reserved,
	}
}

func dedupeSorted(types []models.ResourceType) []models.ResourceType {
	seen := make(map[models.ResourceType]bool, len(types))
	out := make([]models.ResourceType, 0, len(types))
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
