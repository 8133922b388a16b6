package inventory

import (
	"context"
	"fmt"
	"os"

	"github.com/DEVa-26/Disaster/internal/models"

	"gopkg.in/yaml.v3"
)

// Seed 初始库存：region -> {resourceType: total}
type Seed map[string]models.Quantities

type seedFile struct {
	Regions map[string]map[string]int `yaml:"regions"`
}

// LoadSeedFile 读取 YAML 初始库存
//
//	regions:
//	  R1: {rescue_team: 2, shelter_bed: 10}
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse inventory yaml %s: %w", path, err)
	}
	seed := make(Seed, len(f.Regions))
	for region, counts := range f.Regions {
		q := make(models.Quantities, len(counts))
		for rt, n := range counts {
			if n < 0 {
				return nil, fmt.Errorf("inventory yaml %s: %s/%s is negative", path, region, rt)
			}
			q[models.ResourceType(rt)] = n
		}
		seed[region] = q
	}
	return seed, nil
}

// Apply 按 Seed 补货（数量为 0 的资源也会登记，表示"已配置但无库存"）
func (s *Store) Apply(ctx context.Context, seed Seed) error {
	for region, counts := range seed {
		for _, rt := range counts.Types() {
			if _, err := s.Provision(ctx, region, rt, counts[rt]); err != nil {
				return err
			}
		}
	}
	return nil
}
