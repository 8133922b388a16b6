package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DisasterType 灾害类型（封闭集合）
type DisasterType string

const (
	DisasterFire       DisasterType = "Fire"
	DisasterFlood      DisasterType = "Flood"
	DisasterEarthquake DisasterType = "Earthquake"
	DisasterCollapse   DisasterType = "Collapse"
	DisasterOther      DisasterType = "Other"
)

// DisasterTypes 全部灾害类型（固定顺序）
var DisasterTypes = []DisasterType{
	DisasterFire,
	DisasterFlood,
	DisasterEarthquake,
	DisasterCollapse,
	DisasterOther,
}

// Valid 是否为已知灾害类型
func (d DisasterType) Valid() bool {
	switch d {
	case DisasterFire, DisasterFlood, DisasterEarthquake, DisasterCollapse, DisasterOther:
		return true
	}
	return false
}

// ParseDisasterType 将分类器输出的标签归一化为 DisasterType
// 未识别的标签归为 Other（分类器输出漂移不影响分配核心）
func ParseDisasterType(label string) DisasterType {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "fire", "wildfire", "fire_disaster", "urban_fire":
		return DisasterFire
	case "flood", "flooding", "water_disaster":
		return DisasterFlood
	case "earthquake", "quake":
		return DisasterEarthquake
	case "collapse", "building_collapse", "collapsed_building", "damaged_infrastructure":
		return DisasterCollapse
	default:
		return DisasterOther
	}
}

// LookupDisasterType 按规范名称查找（不区分大小写），不做标签归一化
func LookupDisasterType(name string) (DisasterType, bool) {
	name = strings.TrimSpace(name)
	for _, t := range DisasterTypes {
		if strings.EqualFold(name, string(t)) {
			return t, true
		}
	}
	return "", false
}

// UnmarshalJSON 只接受规范名称，拒绝未知值
func (d *DisasterType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: disaster_type must be a string", ErrInvalidRequest)
	}
	t, ok := LookupDisasterType(s)
	if !ok {
		return fmt.Errorf("%w: unknown disaster_type %q", ErrInvalidRequest, s)
	}
	*d = t
	return nil
}

// Severity 严重程度（有序：Low < Moderate < High < Critical）
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityModerate
	SeverityHigh
	SeverityCritical
)

// Severities 全部严重程度（升序）
var Severities = []Severity{SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical}

var severityNames = map[Severity]string{
	SeverityLow:      "Low",
	SeverityModerate: "Moderate",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Valid 是否为已知严重程度
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// ParseSeverity 解析严重程度
// 同时接受图像模型的标签："Little to None" -> Low, "Mild" -> Moderate, "Severe" -> High
func ParseSeverity(label string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "low", "little to none", "little_to_none", "none":
		return SeverityLow, nil
	case "moderate", "mild", "medium":
		return SeverityModerate, nil
	case "high", "severe":
		return SeverityHigh, nil
	case "critical", "extreme":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("%w: unknown severity %q", ErrInvalidRequest, label)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var label string
	if err := json.Unmarshal(b, &label); err != nil {
		return fmt.Errorf("%w: severity must be a string", ErrInvalidRequest)
	}
	parsed, err := ParseSeverity(label)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IncidentRequest 分配请求（上游分类结果）
type IncidentRequest struct {
	IncidentID       string       `json:"incident_id"`
	DisasterType     DisasterType `json:"disaster_type"`
	Severity         Severity     `json:"severity"`
	Location         string       `json:"location,omitempty"`          // 地名或区域编码，可为空
	SourceConfidence float64      `json:"source_confidence,omitempty"` // 仅用于观测，不影响分配
}

// Validate 校验请求字段
func (r *IncidentRequest) Validate() error {
	if strings.TrimSpace(r.IncidentID) == "" {
		return fmt.Errorf("%w: incident_id is required", ErrInvalidRequest)
	}
	if !r.DisasterType.Valid() {
		return fmt.Errorf("%w: unknown disaster_type %q", ErrInvalidRequest, r.DisasterType)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %d", ErrInvalidRequest, int(r.Severity))
	}
	if r.SourceConfidence < 0 || r.SourceConfidence > 1 {
		return fmt.Errorf("%w: source_confidence must be in [0,1]", ErrInvalidRequest)
	}
	return nil
}
