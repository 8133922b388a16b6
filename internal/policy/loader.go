package policy

import (
	"fmt"
	"os"
	"sort"

	"github.com/DEVa-26/Disaster/internal/models"

	"gopkg.in/yaml.v3"
)

// fileFormat 需求表文件格式：
//
//	profiles:
//	  Flood:
//	    High: {rescue_team: 10, boat: 8}
type fileFormat struct {
	Profiles map[string]map[string]map[string]int `yaml:"profiles"`
}

// LoadFile 从 YAML 文件加载需求表；path 为空时返回内置默认表
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return t, nil
}

// Parse 解析并校验需求表
func Parse(data []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy yaml: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("policy yaml has no profiles")
	}

	// 同义标签（如 High 与 Severe）映射到同一格子时直接拒绝，否则结果取决于 map 遍历顺序
	t := NewTable()
	seenTypes := make(map[models.DisasterType]string, len(f.Profiles))
	for _, dtName := range sortedKeys(f.Profiles) {
		dt, ok := models.LookupDisasterType(dtName)
		if !ok {
			return nil, fmt.Errorf("unknown disaster type %q", dtName)
		}
		if prev, dup := seenTypes[dt]; dup {
			return nil, fmt.Errorf("%w: disaster type %s listed twice (%q and %q)", models.ErrInvalidRequest, dt, prev, dtName)
		}
		seenTypes[dt] = dtName

		row := f.Profiles[dtName]
		seenSev := make(map[models.Severity]string, len(row))
		for _, sevName := range sortedKeys(row) {
			sev, err := models.ParseSeverity(sevName)
			if err != nil {
				return nil, err
			}
			if prev, dup := seenSev[sev]; dup {
				return nil, fmt.Errorf("%w: %s severity %s listed twice (%q and %q)", models.ErrInvalidRequest, dt, sev, prev, sevName)
			}
			seenSev[sev] = sevName

			demand := row[sevName]
			q := make(models.Quantities, len(demand))
			for rt, n := range demand {
				q[models.ResourceType(rt)] = n
			}
			t.Set(dt, sev, q)
		}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
