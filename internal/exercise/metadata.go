package exercise

import (
	"fmt"
	"os"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"gopkg.in/yaml.v3"
)

// Metadata holds the catalogue attributes that are not derived from exercise files
type Metadata struct {
	Difficulty    domain.Difficulty `yaml:"difficulty"`
	EstimatedTime int               `yaml:"estimated_time"` // minutes
	Topics        []string          `yaml:"topics"`
}

// MetadataTable maps an exercise folder name to its metadata
type MetadataTable map[string]Metadata

// DefaultMetadata is used for folders that have no table entry
func DefaultMetadata() Metadata {
	return Metadata{
		Difficulty:    domain.DifficultyIntermediate,
		EstimatedTime: 20,
		Topics:        []string{"general"},
	}
}

// DefaultMetadataTable returns the built-in table for the bundled exercises
func DefaultMetadataTable() MetadataTable {
	return MetadataTable{
		"E0_greet":             {domain.DifficultyBeginner, 10, []string{"functions", "strings", "basic-io"}},
		"E1_seconds_to_hms":    {domain.DifficultyBeginner, 15, []string{"math", "arithmetic", "time-conversion"}},
		"E1_tip_calc":          {domain.DifficultyBeginner, 10, []string{"math", "arithmetic", "calculations"}},
		"E2_initials":          {domain.DifficultyBeginner, 12, []string{"strings", "string-methods", "text-processing"}},
		"E2_username_slug":     {domain.DifficultyBeginner, 15, []string{"strings", "string-methods", "text-processing", "validation"}},
		"E3_grade_mapper":      {domain.DifficultyIntermediate, 20, []string{"conditionals", "if-statements", "comparison-operators"}},
		"E3_leap_year":         {domain.DifficultyIntermediate, 18, []string{"conditionals", "logic", "date-calculations"}},
		"E4_fizzbuzz":          {domain.DifficultyIntermediate, 25, []string{"loops", "conditionals", "modulo-operator", "algorithms"}},
		"E4_prime_checker":     {domain.DifficultyIntermediate, 30, []string{"loops", "math", "algorithms", "optimization"}},
		"E5_math_utils":        {domain.DifficultyIntermediate, 35, []string{"functions", "math", "algorithms", "problem-solving"}},
		"E5_password_strength": {domain.DifficultyIntermediate, 25, []string{"strings", "validation", "conditionals", "security"}},
		"E5_temp_convert":      {domain.DifficultyIntermediate, 20, []string{"functions", "math", "conversions", "problem-solving"}},
		"E6_set_ops":           {domain.DifficultyAdvanced, 40, []string{"sets", "data-structures", "set-operations", "algorithms"}},
		"E7_sum_numbers":       {domain.DifficultyAdvanced, 30, []string{"strings", "parsing", "error-handling", "validation"}},
		"E8_ops_module":        {domain.DifficultyAdvanced, 45, []string{"modules", "classes", "oop", "code-organization"}},
		"E9_bug_hunt":          {domain.DifficultyAdvanced, 35, []string{"debugging", "error-handling", "code-analysis", "problem-solving"}},
	}
}

// Lookup returns the metadata for folder, falling back to DefaultMetadata.
// The returned Topics slice is a copy.
func (t MetadataTable) Lookup(folder string) Metadata {
	m, ok := t[folder]
	if !ok {
		m = DefaultMetadata()
	}
	m.Topics = append([]string(nil), m.Topics...)
	return m
}

// metadataFile is the YAML layout of a metadata override file
type metadataFile struct {
	Exercises map[string]Metadata `yaml:"exercises"`
}

// LoadMetadataFile reads a YAML metadata file and merges it over base.
// Entries in the file replace base entries with the same folder name.
func LoadMetadataFile(path string, base MetadataTable) (MetadataTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}

	var file metadataFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse metadata file: %w", err)
	}

	merged := make(MetadataTable, len(base)+len(file.Exercises))
	for k, v := range base {
		merged[k] = v
	}

	def := DefaultMetadata()
	for folder, m := range file.Exercises {
		if m.Difficulty == "" {
			m.Difficulty = def.Difficulty
		}
		if !m.Difficulty.Valid() {
			return nil, fmt.Errorf("metadata for %s: unknown difficulty %q", folder, m.Difficulty)
		}
		if m.EstimatedTime <= 0 {
			m.EstimatedTime = def.EstimatedTime
		}
		if len(m.Topics) == 0 {
			m.Topics = def.Topics
		}
		merged[folder] = m
	}

	return merged, nil
}
