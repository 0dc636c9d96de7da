package achievement

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Definition is one static achievement: identity, presentation metadata, and
// the typed criterion that unlocks it. Loaded at startup, never mutated.
type Definition struct {
	ID          string
	Name        string
	Description string
	Category    string
	Rarity      string
	Points      int
	Secret      bool
	Criteria    Criterion
}

// defFile is the YAML shape of the definitions file.
type defFile struct {
	Achievements []defEntry `yaml:"achievements"`
}

type defEntry struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Category    string      `yaml:"category"`
	Rarity      string      `yaml:"rarity"`
	Points      int         `yaml:"points"`
	Secret      bool        `yaml:"secret"`
	Criteria    defCriteria `yaml:"criteria"`
}

type defCriteria struct {
	Type   string `yaml:"type"`   // stat_threshold | win_streak | distinct_count
	Stat   string `yaml:"stat"`   // stat_threshold
	Value  string `yaml:"value"`  // stat_threshold; decimal string
	Length int64  `yaml:"length"` // win_streak
	Of     string `yaml:"of"`     // distinct_count
	Count  int64  `yaml:"count"`  // distinct_count
}

// LoadDefinitions reads and validates the achievement definitions file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("achievement: read %q: %w", path, err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes YAML definition data.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var f defFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("achievement: parse definitions: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Achievements))
	defs := make([]Definition, 0, len(f.Achievements))
	for _, e := range f.Achievements {
		if e.ID == "" {
			return nil, fmt.Errorf("achievement: definition without id (name %q)", e.Name)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("achievement: duplicate id %q", e.ID)
		}
		seen[e.ID] = struct{}{}

		crit, err := buildCriterion(e.Criteria)
		if err != nil {
			return nil, fmt.Errorf("achievement %q: %w", e.ID, err)
		}

		defs = append(defs, Definition{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Category:    e.Category,
			Rarity:      e.Rarity,
			Points:      e.Points,
			Secret:      e.Secret,
			Criteria:    crit,
		})
	}
	return defs, nil
}

func buildCriterion(c defCriteria) (Criterion, error) {
	switch c.Type {
	case "stat_threshold":
		v, err := decimal.NewFromString(c.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold value %q: %w", c.Value, err)
		}
		switch Stat(c.Stat) {
		case StatTotalTrades, StatBuyTrades, StatSellTrades, StatRealizedPnL, StatTotalValue, StatCash:
		default:
			return nil, fmt.Errorf("unknown stat %q", c.Stat)
		}
		return StatThreshold{Stat: Stat(c.Stat), Value: v}, nil

	case "win_streak":
		if c.Length <= 0 {
			return nil, fmt.Errorf("win_streak length must be positive, got %d", c.Length)
		}
		return WinStreak{Length: c.Length}, nil

	case "distinct_count":
		switch CountTarget(c.Of) {
		case CountSymbolsTraded, CountSymbolsHeld:
		default:
			return nil, fmt.Errorf("unknown count target %q", c.Of)
		}
		if c.Count <= 0 {
			return nil, fmt.Errorf("distinct_count count must be positive, got %d", c.Count)
		}
		return DistinctCount{Of: CountTarget(c.Of), Count: c.Count}, nil

	default:
		return nil, fmt.Errorf("unknown criteria type %q", c.Type)
	}
}
