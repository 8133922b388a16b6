package ledger

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/DEVa-26/Disaster/internal/models"
)

// ErrDuplicateIncident 同一事件已有分配记录
var ErrDuplicateIncident = errors.New("incident already has an allocation record")

// Entry 某个事件在流水中的状态
type Entry struct {
	Record   *models.AllocationRecord
	Released bool
}

// snapshot 不可变的流水视图；records 只追加，旧快照只读到自己的长度
type snapshot struct {
	records []*models.AllocationRecord
}

// Ledger 只追加的分配流水
// 写入者之间用 mu 串行；Query 只读原子快照，不会阻塞写入者也不会被写入者阻塞
type Ledger struct {
	mu    sync.Mutex
	snap  atomic.Pointer[snapshot]
	index sync.Map // incidentID -> Entry
}

// New 创建空流水
func New() *Ledger {
	l := &Ledger{}
	l.snap.Store(&snapshot{})
	return l
}

// Lookup 查询事件的分配记录（返回副本）
func (l *Ledger) Lookup(incidentID string) (Entry, bool) {
	v, ok := l.index.Load(incidentID)
	if !ok {
		return Entry{}, false
	}
	e := v.(Entry)
	return Entry{Record: e.Record.Clone(), Released: e.Released}, true
}

// Append 追加一条记录
// allocation：事件已存在 -> ErrDuplicateIncident
// release：事件不存在 -> ErrIncidentNotFound，已释放 -> ErrAlreadyReleased；成功后标记原记录为已释放
func (l *Ledger) Append(rec *models.AllocationRecord) error {
	if rec == nil || rec.IncidentID == "" {
		return fmt.Errorf("%w: record without incident id", models.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stored := rec.Clone()
	switch rec.Kind {
	case models.KindAllocation:
		if _, ok := l.index.Load(rec.IncidentID); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateIncident, rec.IncidentID)
		}
		l.index.Store(rec.IncidentID, Entry{Record: stored})
	case models.KindRelease:
		v, ok := l.index.Load(rec.IncidentID)
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrIncidentNotFound, rec.IncidentID)
		}
		e := v.(Entry)
		if e.Released {
			return fmt.Errorf("%w: %s", models.ErrAlreadyReleased, rec.IncidentID)
		}
		l.index.Store(rec.IncidentID, Entry{Record: e.Record, Released: true})
	default:
		return fmt.Errorf("%w: unknown record kind %q", models.ErrInvalidRequest, rec.Kind)
	}

	old := l.snap.Load()
	l.snap.Store(&snapshot{records: append(old.records, stored)})
	return nil
}

// Query 按过滤条件返回记录（插入顺序，副本）
func (l *Ledger) Query(filter models.QueryFilter) []*models.AllocationRecord {
	snap := l.snap.Load()
	out := make([]*models.AllocationRecord, 0)
	for _, r := range snap.records {
		if filter.Match(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Len 记录条数
func (l *Ledger) Len() int {
	return len(l.snap.Load().records)
}

// Load 启动时按时间顺序重放已持久化的记录
func (l *Ledger) Load(records []*models.AllocationRecord) error {
	for _, r := range records {
		if err := l.Append(r); err != nil {
			return fmt.Errorf("failed to restore record %s: %w", r.RecordID, err)
		}
	}
	return nil
}
