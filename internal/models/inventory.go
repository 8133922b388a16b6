package models

// InventoryEntry (region, resourceType) 的库存计数
// 不变式：Available + Reserved == Total，且 Available >= 0
type InventoryEntry struct {
	Region       string       `json:"region" db:"region"`
	ResourceType ResourceType `json:"resource_type" db:"resource_type"`
	Available    int          `json:"available" db:"available"`
	Reserved     int          `json:"reserved" db:"reserved"`
	Total        int          `json:"total" db:"total"`
}

// InventoryChange 一次事务对某个 key 的计数变化（用于持久化）
type InventoryChange struct {
	Region        string       `json:"region"`
	ResourceType  ResourceType `json:"resource_type"`
	AvailableDiff int          `json:"available_diff"`
	ReservedDiff  int          `json:"reserved_diff"`
	TotalDiff     int          `json:"total_diff"`
}
