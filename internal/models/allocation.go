package models

import (
	"sort"
	"time"
)

// ResourceType 资源类别（按"个"计数），如 ambulance, shelter_bed
type ResourceType string

const (
	ResourceRescueTeam  ResourceType = "rescue_team"
	ResourceMedicalUnit ResourceType = "medical_unit"
	ResourceAmbulance   ResourceType = "ambulance"
	ResourceShelterBed  ResourceType = "shelter_bed"
	ResourceFoodPack    ResourceType = "food_pack"
	ResourceWaterKit    ResourceType = "water_kit"
	ResourceFireEngine  ResourceType = "fire_engine"
	ResourceBoat        ResourceType = "boat"
)

// Quantities 资源类型 -> 数量
type Quantities map[ResourceType]int

// Clone 深拷贝
func (q Quantities) Clone() Quantities {
	out := make(Quantities, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// Types 按名称排序的资源类型
func (q Quantities) Types() []ResourceType {
	types := make([]ResourceType, 0, len(q))
	for t := range q {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Total 总数量
func (q Quantities) Total() int {
	total := 0
	for _, v := range q {
		total += v
	}
	return total
}

// Status 分配结果状态
type Status string

const (
	StatusFulfilled Status = "Fulfilled"
	StatusPartial   Status = "Partial"
	StatusRejected  Status = "Rejected"
	// StatusReleased 仅用于补偿记录
	StatusReleased Status = "Released"
)

// RecordKind 流水记录类型
type RecordKind string

const (
	KindAllocation RecordKind = "allocation"
	KindRelease    RecordKind = "release"
)

// AllocationRecord 一次分配（或释放补偿）的结果，写入后不可变
type AllocationRecord struct {
	RecordID         string       `json:"record_id"`
	IncidentID       string       `json:"incident_id"`
	Kind             RecordKind   `json:"kind"`
	DisasterType     DisasterType `json:"disaster_type"`
	Severity         Severity     `json:"severity"`
	Region           string       `json:"region"`
	Requested        Quantities   `json:"requested"`
	Granted          Quantities   `json:"granted"`
	Status           Status       `json:"status"`
	SourceConfidence float64      `json:"source_confidence"`
	Timestamp        time.Time    `json:"timestamp"`
}

// Clone 返回副本（map 深拷贝），防止调用方修改流水
func (r *AllocationRecord) Clone() *AllocationRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Requested = r.Requested.Clone()
	out.Granted = r.Granted.Clone()
	return &out
}

// DecideStatus 根据需求与实际分配计算状态
// 全部满足 -> Fulfilled；全部为 0 -> Rejected；其余 -> Partial
func DecideStatus(requested, granted Quantities) Status {
	fulfilled := true
	anyGranted := false
	for t, want := range requested {
		got := granted[t]
		if got < want {
			fulfilled = false
		}
		if got > 0 {
			anyGranted = true
		}
	}
	switch {
	case fulfilled:
		return StatusFulfilled
	case !anyGranted:
		return StatusRejected
	default:
		return StatusPartial
	}
}

// QueryFilter 流水查询条件（均可选，条件之间为 AND）
type QueryFilter struct {
	IncidentID   string
	Region       string
	DisasterType DisasterType
	Status       Status
	Since        *time.Time // 包含
	Until        *time.Time // 不包含
}

// Match 判断记录是否满足过滤条件
func (f QueryFilter) Match(r *AllocationRecord) bool {
	if f.IncidentID != "" && r.IncidentID != f.IncidentID {
		return false
	}
	if f.Region != "" && r.Region != f.Region {
		return false
	}
	if f.DisasterType != "" && r.DisasterType != f.DisasterType {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Since != nil && r.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !r.Timestamp.Before(*f.Until) {
		return false
	}
	return true
}
