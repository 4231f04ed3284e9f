package pocketbase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeLister struct {
	items []FeatureFlag
	err   error
	opts  []ListOptions
}

func (f *fakeLister) List(_ context.Context, collection string, opts ListOptions) (*ListResult, error) {
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	res := &ListResult{Page: 1}
	for _, flag := range f.items {
		if opts.Filter == "enabled = true" && !flag.Enabled {
			continue
		}
		if opts.Filter == "name = \""+flag.Name+"\"" || opts.Filter == "enabled = true" {
			raw, _ := json.Marshal(flag)
			res.Items = append(res.Items, raw)
		}
	}
	res.TotalItems = len(res.Items)
	return res, nil
}

func TestFeatureFlags_Enabled(t *testing.T) {
	lister := &fakeLister{items: []FeatureFlag{
		{Name: "ai_hints", Enabled: true, RequiredTier: "premium"},
		{Name: "leaderboard", Enabled: false},
	}}
	flags := NewFeatureFlags(lister)
	ctx := context.Background()

	tests := []struct {
		name string
		want bool
	}{
		{"ai_hints", true},
		{"leaderboard", false},
		{"unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := flags.Enabled(ctx, tt.name)
			if err != nil {
				t.Fatalf("Enabled() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Enabled(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if got := lister.opts[0]; got.PerPage != 1 || got.Filter != `name = "ai_hints"` {
		t.Errorf("list options = %+v", got)
	}
}

func TestFeatureFlags_ListEnabled(t *testing.T) {
	flags := NewFeatureFlags(&fakeLister{items: []FeatureFlag{
		{Name: "a", Enabled: true},
		{Name: "b", Enabled: false},
		{Name: "c", Enabled: true},
	}})

	got, err := flags.ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("ListEnabled() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Errorf("ListEnabled() = %+v", got)
	}
}

func TestFeatureFlags_Error(t *testing.T) {
	boom := errors.New("boom")
	flags := NewFeatureFlags(&fakeLister{err: boom})

	if _, err := flags.Enabled(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("Enabled() error = %v, want boom", err)
	}
}

func TestFeatureFlag_AvailableTo(t *testing.T) {
	tests := []struct {
		name string
		flag FeatureFlag
		tier string
		want bool
	}{
		{"no tier required", FeatureFlag{Enabled: true}, "", true},
		{"disabled", FeatureFlag{Enabled: false}, "enterprise", false},
		{"premium on free", FeatureFlag{Enabled: true, RequiredTier: "premium"}, "free", false},
		{"premium on premium", FeatureFlag{Enabled: true, RequiredTier: "premium"}, "premium", true},
		{"premium on enterprise", FeatureFlag{Enabled: true, RequiredTier: "premium"}, "enterprise", true},
		{"unknown tier is free", FeatureFlag{Enabled: true, RequiredTier: "premium"}, "gold", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.flag.AvailableTo(tt.tier); got != tt.want {
				t.Errorf("AvailableTo(%q) = %v, want %v", tt.tier, got, tt.want)
			}
		})
	}
}
