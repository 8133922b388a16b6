package inventory

import (
	"fmt"
	"sort"

	"github.com/DEVa-26/Disaster/internal/models"
)

// Txn 持有一组 key 锁的库存事务
// 锁在 Commit/Rollback 前一直持有，因此其他读者看不到中间状态
type Txn struct {
	region  string
	order   []models.ResourceType
	entries map[models.ResourceType]*entry
	changes map[models.ResourceType]*models.InventoryChange
	done    bool
}

func (t *Txn) checkOpen() error {
	if t.done {
		return fmt.Errorf("inventory transaction already finished")
	}
	return nil
}

func (t *Txn) checkHeld(types []models.ResourceType) error {
	for _, rt := range types {
		if _, ok := t.entries[rt]; !ok {
			return fmt.Errorf("%w: %s/%s not locked by transaction", models.ErrUnknownResource, t.region, rt)
		}
	}
	return nil
}

func (t *Txn) record(rt models.ResourceType, availDiff, reservedDiff, totalDiff int) {
	c, ok := t.changes[rt]
	if !ok {
		c = &models.InventoryChange{Region: t.region, ResourceType: rt}
		t.changes[rt] = c
	}
	c.AvailableDiff += availDiff
	c.ReservedDiff += reservedDiff
	c.TotalDiff += totalDiff
}

// Reserve 对每种资源 granted = min(demand, available)，available -> reserved
// 数量为 0 的资源不出现在 granted 中
func (t *Txn) Reserve(demand models.Quantities) (models.Quantities, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	types := demand.Types()
	if err := t.checkHeld(types); err != nil {
		return nil, err
	}
	for _, rt := range types {
		if demand[rt] < 0 {
			return nil, fmt.Errorf("%w: negative demand for %s", models.ErrInvalidRequest, rt)
		}
	}

	granted := models.Quantities{}
	for _, rt := range types {
		e := t.entries[rt]
		n := demand[rt]
		if e.available < n {
			n = e.available
		}
		if n == 0 {
			continue
		}
		e.available -= n
		e.reserved += n
		t.record(rt, -n, n, 0)
		granted[rt] = n
	}
	return granted, nil
}

// Release reserved -> available；超过已预留数量时整体失败
func (t *Txn) Release(amounts models.Quantities) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	types := amounts.Types()
	if err := t.checkHeld(types); err != nil {
		return err
	}
	for _, rt := range types {
		n := amounts[rt]
		if n < 0 {
			return fmt.Errorf("%w: negative release for %s", models.ErrInvalidRequest, rt)
		}
		if n > t.entries[rt].reserved {
			return fmt.Errorf("%w: release %d %s exceeds reserved %d in %s",
				models.ErrInvalidRequest, n, rt, t.entries[rt].reserved, t.region)
		}
	}
	for _, rt := range types {
		n := amounts[rt]
		if n == 0 {
			continue
		}
		e := t.entries[rt]
		e.reserved -= n
		e.available += n
		t.record(rt, n, -n, 0)
	}
	return nil
}

// Provision 调整总容量；下调不能超过 available（已预留的不回收）
func (t *Txn) Provision(rt models.ResourceType, totalDelta int) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := t.checkHeld([]models.ResourceType{rt}); err != nil {
		return err
	}
	e := t.entries[rt]
	if e.available+totalDelta < 0 {
		return fmt.Errorf("%w: cannot remove %d %s from %s (available %d)",
			models.ErrInsufficientCapacity, -totalDelta, rt, t.region, e.available)
	}
	e.available += totalDelta
	t.record(rt, totalDelta, 0, totalDelta)
	return nil
}

// Changes 本事务产生的非零计数变化（按资源类型排序）
func (t *Txn) Changes() []models.InventoryChange {
	out := make([]models.InventoryChange, 0, len(t.changes))
	for _, c := range t.changes {
		if c.AvailableDiff == 0 && c.ReservedDiff == 0 && c.TotalDiff == 0 {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceType < out[j].ResourceType })
	return out
}

// Entry 事务内读取计数（锁由事务持有）
func (t *Txn) Entry(rt models.ResourceType) models.InventoryEntry {
	e := t.entries[rt]
	return models.InventoryEntry{
		Region:       t.region,
		ResourceType: rt,
		Available:    e.available,
		Reserved:     e.reserved,
		Total:        e.available + e.reserved,
	}
}

// Commit 保留修改并释放锁
func (t *Txn) Commit() {
	if t.done {
		return
	}
	t.done = true
	for _, rt := range t.order {
		t.entries[rt].live.Store(true)
	}
	t.unlockAll()
}

// Rollback 撤销本事务的全部修改并释放锁
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	for rt, c := range t.changes {
		e := t.entries[rt]
		e.available -= c.AvailableDiff
		e.reserved -= c.ReservedDiff
	}
	t.changes = map[models.ResourceType]*models.InventoryChange{}
	t.unlockAll()
}

func (t *Txn) unlockAll() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.entries[t.order[i]].lock.unlock()
	}
}
