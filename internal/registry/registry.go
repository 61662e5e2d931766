// Package registry holds the exercise, rule and achievement catalog. A
// Registry is an immutable snapshot; hot reload swaps whole snapshots through
// a Holder.
package registry

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"

	"sweatbot/internal/logger"
)

//go:embed default_registry.yaml
var defaultDocument []byte

// ErrInvalid is wrapped by every error Validate returns.
var ErrInvalid = errors.New("invalid registry")

// Format is the encoding of a registry document
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the document format from a file extension. Anything
// that isn't .json is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// document is the on-disk shape. Enabled flags are pointers so an omitted
// flag means enabled.
type document struct {
	Version      string                `yaml:"version" json:"version"`
	Exercises    []exerciseDocument    `yaml:"exercises" json:"exercises"`
	Rules        []ruleDocument        `yaml:"rules" json:"rules"`
	Achievements []achievementDocument `yaml:"achievements" json:"achievements"`
}

type exerciseDocument struct {
	Key           string             `yaml:"key" json:"key"`
	NameEN        string             `yaml:"name_en" json:"name_en"`
	NameHE        string             `yaml:"name_he" json:"name_he"`
	Aliases       []string           `yaml:"aliases" json:"aliases"`
	Category      Category           `yaml:"category" json:"category"`
	BasePoints    float64            `yaml:"base_points" json:"base_points"`
	Multipliers   map[Metric]float64 `yaml:"multipliers" json:"multipliers"`
	RecordMetrics []Metric           `yaml:"record_metrics" json:"record_metrics"`
	Enabled       *bool              `yaml:"enabled" json:"enabled"`
}

type ruleDocument struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	RuleType    RuleKind `yaml:"rule_type" json:"rule_type"`
	Condition   string   `yaml:"condition" json:"condition"`
	Value       float64  `yaml:"value" json:"value"`
	Priority    int      `yaml:"priority" json:"priority"`
	Enabled     *bool    `yaml:"enabled" json:"enabled"`
}

type achievementDocument struct {
	ID            string        `yaml:"id" json:"id"`
	Name          string        `yaml:"name" json:"name"`
	NameHE        string        `yaml:"name_he" json:"name_he"`
	Description   string        `yaml:"description" json:"description"`
	Category      string        `yaml:"category" json:"category"`
	Tier          Tier          `yaml:"tier" json:"tier"`
	ConditionType ConditionType `yaml:"condition_type" json:"condition_type"`
	Condition     string        `yaml:"condition" json:"condition"`
	PointsReward  int64         `yaml:"points_reward" json:"points_reward"`
	Enabled       *bool         `yaml:"enabled" json:"enabled"`
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

// Registry is one loaded catalog snapshot. It is never mutated after Parse
// returns.
type Registry struct {
	Version string

	digest        string // sha256 of the source bytes

	exercises     []ExerciseDefinition
	byKey         map[string]int
	byName        map[string]int
	bonuses       []Rule
	multipliers   []Rule
	achievements  []AchievementDefinition
	duplicateKeys []string
}

// Parse decodes and validates a registry document. Malformed rule and
// achievement conditions do not fail the load: they are logged and the
// affected entries never match.
func Parse(data []byte, format Format) (*Registry, error) {
	var doc document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding registry json: %w", err)
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding registry yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported registry format %q", format)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	version := doc.Version
	if version == "" {
		version = "sha256:" + digest[:16]
	}

	reg := build(doc, version)
	reg.digest = digest
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	reg.warnMalformedConditions()
	return reg, nil
}

// Default returns the built-in catalog.
func Default() (*Registry, error) {
	reg, err := Parse(defaultDocument, FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("parsing built-in registry: %w", err)
	}
	return reg, nil
}

// DefaultDocument returns a copy of the built-in catalog source.
func DefaultDocument() []byte {
	return append([]byte(nil), defaultDocument...)
}

func build(doc document, version string) *Registry {
	reg := &Registry{
		Version: version,
		byKey:   make(map[string]int, len(doc.Exercises)),
		byName:  make(map[string]int),
	}

	for _, ed := range doc.Exercises {
		def := ExerciseDefinition{
			Key:           ed.Key,
			NameEN:        ed.NameEN,
			NameHE:        ed.NameHE,
			Aliases:       ed.Aliases,
			Category:      ed.Category,
			BasePoints:    ed.BasePoints,
			Multipliers:   ed.Multipliers,
			RecordMetrics: ed.RecordMetrics,
			Enabled:       enabled(ed.Enabled),
		}
		if def.Key == "" && def.NameEN != "" {
			def.Key = deriveKey(def.NameEN)
		}
		if def.Multipliers == nil {
			def.Multipliers = map[Metric]float64{}
		}
		if len(def.RecordMetrics) == 0 {
			def.RecordMetrics = DefaultRecordMetrics[def.Category]
		}

		if _, dup := reg.byKey[def.Key]; dup {
			reg.duplicateKeys = append(reg.duplicateKeys, def.Key)
			continue
		}
		idx := len(reg.exercises)
		reg.exercises = append(reg.exercises, def)
		reg.byKey[def.Key] = idx
		for _, name := range append([]string{def.Key, def.NameEN, def.NameHE}, def.Aliases...) {
			n := normalizeName(name)
			if n == "" {
				continue
			}
			// first definition wins for shared names
			if _, taken := reg.byName[n]; !taken {
				reg.byName[n] = idx
			}
		}
	}

	for _, rd := range doc.Rules {
		r := Rule{
			ID:          rd.ID,
			Name:        rd.Name,
			Description: rd.Description,
			Kind:        rd.RuleType,
			Condition:   rd.Condition,
			Value:       rd.Value,
			Priority:    rd.Priority,
			Enabled:     enabled(rd.Enabled),
		}
		r.compile()
		switch r.Kind {
		case RuleMultiplier:
			reg.multipliers = append(reg.multipliers, r)
		default:
			reg.bonuses = append(reg.bonuses, r)
		}
	}
	sortRules(reg.bonuses)
	sortRules(reg.multipliers)

	for _, ad := range doc.Achievements {
		a := AchievementDefinition{
			ID:            ad.ID,
			Name:          ad.Name,
			NameHE:        ad.NameHE,
			Description:   ad.Description,
			Category:      ad.Category,
			Tier:          ad.Tier,
			ConditionType: ad.ConditionType,
			Condition:     ad.Condition,
			PointsReward:  ad.PointsReward,
			Enabled:       enabled(ad.Enabled),
		}
		if a.Tier == "" {
			a.Tier = TierBronze
		}
		a.compile()
		reg.achievements = append(reg.achievements, a)
	}

	return reg
}

// sortRules orders by priority, keeping declaration order within a priority.
func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
}

func deriveKey(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}

// Validate reports every structural problem in the registry at once.
func (r *Registry) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	for _, key := range r.duplicateKeys {
		add("exercise %q: duplicate key", key)
	}
	for _, e := range r.exercises {
		if e.Key == "" {
			add("exercise without key or name_en")
			continue
		}
		if !e.Category.valid() {
			add("exercise %q: unknown category %q", e.Key, e.Category)
		}
		if e.BasePoints < 0 {
			add("exercise %q: base_points must not be negative", e.Key)
		}
		for m, v := range e.Multipliers {
			if !m.valid() {
				add("exercise %q: unknown metric %q", e.Key, m)
			} else if v < 0 {
				add("exercise %q: multiplier for %s must not be negative", e.Key, m)
			}
		}
		for _, m := range e.RecordMetrics {
			if !m.valid() {
				add("exercise %q: unknown record metric %q", e.Key, m)
			}
		}
	}

	seenRules := map[string]bool{}
	for _, rule := range append(append([]Rule(nil), r.bonuses...), r.multipliers...) {
		if rule.ID == "" {
			add("rule without id")
		} else if seenRules[rule.ID] {
			add("rule %q: duplicate id", rule.ID)
		}
		seenRules[rule.ID] = true

		switch rule.Kind {
		case RuleBonus:
			if rule.Value < 0 {
				add("rule %q: bonus value must not be negative", rule.ID)
			}
		case RuleMultiplier:
			if rule.Value <= 0 {
				add("rule %q: multiplier value must be positive", rule.ID)
			}
		default:
			add("rule %q: unknown rule_type %q", rule.ID, rule.Kind)
		}
		if strings.TrimSpace(rule.Condition) == "" {
			add("rule %q: empty condition", rule.ID)
		}
	}

	seenAchievements := map[string]bool{}
	for _, a := range r.achievements {
		if a.ID == "" {
			add("achievement without id")
		} else if seenAchievements[a.ID] {
			add("achievement %q: duplicate id", a.ID)
		}
		seenAchievements[a.ID] = true

		if !a.ConditionType.valid() {
			add("achievement %q: unknown condition_type %q", a.ID, a.ConditionType)
		}
		if strings.TrimSpace(a.Condition) == "" {
			add("achievement %q: empty condition", a.ID)
		}
		if a.PointsReward < 0 {
			add("achievement %q: points_reward must not be negative", a.ID)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(problems...))
}

func (r *Registry) warnMalformedConditions() {
	for _, rule := range append(append([]Rule(nil), r.bonuses...), r.multipliers...) {
		if rule.condErr != nil {
			logger.Warn("Rule condition is malformed and will never match", "rule", rule.ID, "error", rule.condErr)
		}
	}
	for _, a := range r.achievements {
		if a.condErr != nil {
			logger.Warn("Achievement condition is malformed and will never match", "achievement", a.ID, "error", a.condErr)
		}
	}
}

// Exercise looks up an exercise by key, disabled ones included.
func (r *Registry) Exercise(key string) (ExerciseDefinition, bool) {
	if r == nil {
		return ExerciseDefinition{}, false
	}
	idx, ok := r.byKey[key]
	if !ok {
		return ExerciseDefinition{}, false
	}
	return r.exercises[idx], true
}

// LookupByName resolves free text against keys, English and Hebrew names and
// aliases.
func (r *Registry) LookupByName(name string) (ExerciseDefinition, bool) {
	if r == nil {
		return ExerciseDefinition{}, false
	}
	idx, ok := r.byName[normalizeName(name)]
	if !ok {
		return ExerciseDefinition{}, false
	}
	return r.exercises[idx], true
}

// Exercises returns every exercise in declaration order.
func (r *Registry) Exercises() []ExerciseDefinition {
	return append([]ExerciseDefinition(nil), r.exercises...)
}

// BonusRules returns enabled bonus rules in evaluation order.
func (r *Registry) BonusRules() []Rule {
	return enabledRules(r.bonuses)
}

// MultiplierRules returns enabled multiplier rules in evaluation order.
func (r *Registry) MultiplierRules() []Rule {
	return enabledRules(r.multipliers)
}

func enabledRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out
}

// Achievements returns enabled achievements in declaration order.
func (r *Registry) Achievements() []AchievementDefinition {
	out := make([]AchievementDefinition, 0, len(r.achievements))
	for _, a := range r.achievements {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// Achievement looks up an achievement by id.
func (r *Registry) Achievement(id string) (AchievementDefinition, bool) {
	for _, a := range r.achievements {
		if a.ID == id {
			return a, true
		}
	}
	return AchievementDefinition{}, false
}
