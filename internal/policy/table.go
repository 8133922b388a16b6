package policy

import (
	"fmt"

	"github.com/DEVa-26/Disaster/internal/models"
)

// Table 需求配置表：(disasterType, severity) -> {resourceType: count}
// 表达"需要多少"，与当前库存无关
type Table struct {
	rows map[models.DisasterType]map[models.Severity]models.Quantities
}

// NewTable 创建空表
func NewTable() *Table {
	return &Table{rows: map[models.DisasterType]map[models.Severity]models.Quantities{}}
}

// Set 设置某一格的需求（覆盖），用于构建或加载配置
func (t *Table) Set(dt models.DisasterType, sev models.Severity, demand models.Quantities) {
	row, ok := t.rows[dt]
	if !ok {
		row = map[models.Severity]models.Quantities{}
		t.rows[dt] = row
	}
	row[sev] = demand.Clone()
}

// Decide 纯函数：返回 (disasterType, severity) 的需求
// 没有该灾害类型的行时使用 Other 行；数量为 0 的资源不出现在结果中
func (t *Table) Decide(dt models.DisasterType, sev models.Severity) models.Quantities {
	row, ok := t.rows[dt]
	if !ok {
		row = t.rows[models.DisasterOther]
	}
	out := models.Quantities{}
	for rt, n := range row[sev] {
		if n > 0 {
			out[rt] = n
		}
	}
	return out
}

// DisasterTypes 表中已配置的灾害类型（按固定顺序）
func (t *Table) DisasterTypes() []models.DisasterType {
	var out []models.DisasterType
	for _, dt := range models.DisasterTypes {
		if _, ok := t.rows[dt]; ok {
			out = append(out, dt)
		}
	}
	return out
}

// ResourceTypes 表中出现过的所有资源类型（排序），用于检查库存是否覆盖
func (t *Table) ResourceTypes() []models.ResourceType {
	all := models.Quantities{}
	for _, row := range t.rows {
		for _, demand := range row {
			for rt := range demand {
				all[rt] = 1
			}
		}
	}
	return all.Types()
}

// Validate 加载时校验：
// 1. 必须有 Other 行（兜底）
// 2. 数量不能为负
// 3. 同一灾害类型下严重程度越高，每种资源的需求不减
func (t *Table) Validate() error {
	if _, ok := t.rows[models.DisasterOther]; !ok {
		return fmt.Errorf("policy table has no %s row", models.DisasterOther)
	}
	for dt, row := range t.rows {
		if !dt.Valid() {
			return fmt.Errorf("policy table: unknown disaster type %q", dt)
		}
		for sev, demand := range row {
			if !sev.Valid() {
				return fmt.Errorf("policy table: %s has unknown severity %d", dt, int(sev))
			}
			for rt, n := range demand {
				if n < 0 {
					return fmt.Errorf("policy table: %s/%s/%s is negative (%d)", dt, sev, rt, n)
				}
			}
		}
		for i := 1; i < len(models.Severities); i++ {
			lower, higher := models.Severities[i-1], models.Severities[i]
			for rt, n := range row[lower] {
				if row[higher][rt] < n {
					return fmt.Errorf("policy table: %s/%s %s=%d is below %s %s=%d",
						dt, higher, rt, row[higher][rt], lower, rt, n)
				}
			}
		}
	}
	return nil
}

// profile 每种资源在 Low/Moderate/High/Critical 下的数量
type profile map[models.ResourceType][4]int

// 基础需求沿用原资源页面：Severe -> 15/10/1000，Mild -> 5/3/300，Little to None -> 0
var baseProfile = profile{
	models.ResourceMedicalUnit: {0, 5, 15, 25},
	models.ResourceRescueTeam:  {0, 3, 10, 16},
	models.ResourceFoodPack:    {0, 300, 1000, 1600},
}

var disasterProfiles = map[models.DisasterType]profile{
	models.DisasterFire: {
		models.ResourceFireEngine: {1, 3, 6, 10},
		models.ResourceAmbulance:  {0, 2, 5, 8},
		models.ResourceShelterBed: {0, 20, 100, 250},
	},
	models.DisasterFlood: {
		models.ResourceBoat:       {1, 4, 8, 14},
		models.ResourceWaterKit:   {0, 200, 600, 1200},
		models.ResourceShelterBed: {0, 50, 200, 500},
	},
	models.DisasterEarthquake: {
		models.ResourceAmbulance:  {0, 4, 10, 20},
		models.ResourceShelterBed: {0, 50, 300, 800},
		models.ResourceWaterKit:   {0, 100, 400, 1000},
	},
	models.DisasterCollapse: {
		models.ResourceAmbulance: {1, 3, 6, 10},
	},
	models.DisasterOther: {},
}

// DefaultTable 内置需求表（未配置 ALLOC_POLICY_FILE 时使用）
func DefaultTable() *Table {
	t := NewTable()
	for _, dt := range models.DisasterTypes {
		for i, sev := range models.Severities {
			demand := models.Quantities{}
			for rt, counts := range baseProfile {
				demand[rt] = counts[i]
			}
			for rt, counts := range disasterProfiles[dt] {
				demand[rt] = counts[i]
			}
			t.Set(dt, sev, demand)
		}
	}
	return t
}
