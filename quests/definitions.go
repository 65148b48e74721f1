package quests

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/warp/market-engine/generic"
)

//go:embed quests.toml
var defaultDefinitions []byte

// =============================================================================
// DEFINITIONS
// =============================================================================

// Definition is the static configuration of one quest type.
type Definition struct {
	Type          QuestType          `toml:"-"`
	ScoreID       string             `toml:"score_id"`
	RequiredCount int                `toml:"required_count"`
	Reward        float64            `toml:"reward"`
	Period        generic.PeriodType `toml:"period"`
	Payout        bool               `toml:"payout"`
}

// RewardAmount is the reward as a mana amount.
func (d Definition) RewardAmount() generic.Amount {
	return generic.NewAmount(d.Reward, generic.TokenMana).Truncate()
}

// Definitions is read-only after loading.
type Definitions map[QuestType]Definition

// Get returns the definition for qt.
func (d Definitions) Get(qt QuestType) (Definition, error) {
	def, ok := d[qt]
	if !ok {
		return Definition{}, generic.Errorf(generic.ErrUnsupportedKind, "Unknown quest type %s", qt)
	}
	return def, nil
}

// DefaultDefinitions returns the built-in quest table.
func DefaultDefinitions() Definitions {
	defs, err := ParseDefinitions(defaultDefinitions)
	if err != nil {
		panic(fmt.Sprintf("quests: embedded definitions: %v", err))
	}
	return defs
}

// LoadDefinitions reads a quest table from a TOML file.
func LoadDefinitions(path string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quest definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates a quest table. Unknown keys are
// rejected so that typos do not silently disable a quest.
func ParseDefinitions(data []byte) (Definitions, error) {
	var file struct {
		Quests map[string]Definition `toml:"quests"`
	}
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		return nil, fmt.Errorf("decode quest definitions: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown quest definition keys: %s", strings.Join(keys, ", "))
	}

	defs := make(Definitions, len(file.Quests))
	for name, def := range file.Quests {
		def.Type = QuestType(name)
		if def.ScoreID == "" {
			return nil, fmt.Errorf("quest %s: score_id is required", name)
		}
		if def.RequiredCount < 1 {
			return nil, fmt.Errorf("quest %s: required_count must be at least 1", name)
		}
		if def.Reward < 0 {
			return nil, fmt.Errorf("quest %s: reward must not be negative", name)
		}
		if _, err := generic.ParsePeriodType(string(def.Period)); err != nil {
			return nil, fmt.Errorf("quest %s: %w", name, err)
		}
		defs[def.Type] = def
	}
	return defs, nil
}
