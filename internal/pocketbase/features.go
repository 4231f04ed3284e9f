package pocketbase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// FeatureFlagsCollection holds one record per named feature
const FeatureFlagsCollection = "feature_flags"

// Subscription tiers in ascending order
var tierLevels = map[string]int{
	"free":       0,
	"premium":    1,
	"enterprise": 2,
}

// FeatureFlag is a record of the feature_flags collection
type FeatureFlag struct {
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name"`
	Enabled      bool           `json:"enabled"`
	RequiredTier string         `json:"required_tier,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// AvailableTo reports whether a user on tier may use the feature.
// An unknown or empty tier is treated as free.
func (f *FeatureFlag) AvailableTo(tier string) bool {
	if !f.Enabled {
		return false
	}
	if f.RequiredTier == "" {
		return true
	}
	return tierLevels[tier] >= tierLevels[f.RequiredTier]
}

type recordLister interface {
	List(ctx context.Context, collection string, opts ListOptions) (*ListResult, error)
}

// FeatureFlags reads feature toggles from the backend
type FeatureFlags struct {
	records recordLister
}

// NewFeatureFlags creates a reader over the feature_flags collection
func NewFeatureFlags(records recordLister) *FeatureFlags {
	return &FeatureFlags{records: records}
}

// Lookup returns the named flag, or nil when no record exists
func (f *FeatureFlags) Lookup(ctx context.Context, name string) (*FeatureFlag, error) {
	page, err := f.records.List(ctx, FeatureFlagsCollection, ListOptions{
		Page:    1,
		PerPage: 1,
		Filter:  "name = " + strconv.Quote(name),
	})
	if err != nil {
		return nil, fmt.Errorf("lookup feature %s: %w", name, err)
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	var flag FeatureFlag
	if err := json.Unmarshal(page.Items[0], &flag); err != nil {
		return nil, fmt.Errorf("decode feature %s: %w", name, err)
	}
	return &flag, nil
}

// Enabled reports whether the named feature exists and is switched on
func (f *FeatureFlags) Enabled(ctx context.Context, name string) (bool, error) {
	flag, err := f.Lookup(ctx, name)
	if err != nil {
		return false, err
	}
	return flag != nil && flag.Enabled, nil
}

// ListEnabled returns every enabled flag
func (f *FeatureFlags) ListEnabled(ctx context.Context) ([]FeatureFlag, error) {
	page, err := f.records.List(ctx, FeatureFlagsCollection, ListOptions{
		Page:    1,
		PerPage: 100,
		Filter:  "enabled = true",
	})
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	flags := make([]FeatureFlag, 0, len(page.Items))
	for _, item := range page.Items {
		var flag FeatureFlag
		if err := json.Unmarshal(item, &flag); err != nil {
			return nil, fmt.Errorf("decode feature: %w", err)
		}
		flags = append(flags, flag)
	}
	return flags, nil
}
