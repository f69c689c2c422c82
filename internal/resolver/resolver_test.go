package resolver

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFinder records every query and answers from a canned match
type fakeFinder struct {
	queries []Query
	match   func(q Query) []string
	err     error
}

func (f *fakeFinder) FindImageNames(_ context.Context, q Query) ([]string, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	if f.match == nil {
		return nil, nil
	}
	return f.match(q), nil
}

func TestCandidateQueries_FullSetFirst(t *testing.T) {
	config := map[string]any{
		"os":       "linux",
		"dist":     "trusty",
		"language": "go",
	}

	queries := CandidateQueries(config, "gce", 1)
	require.NotEmpty(t, queries)

	full := queries[0]
	assert.True(t, full.IsDefault)
	assert.Equal(t, "gce", full.Infra)
	assert.Equal(t, map[string]string{
		"language_go": "true",
		"dist":        "trusty",
		"os":          "linux",
	}, full.Tags)
}

func TestCandidateQueries_CascadeOrder(t *testing.T) {
	config := map[string]any{
		"os":       "linux",
		"dist":     "trusty",
		"language": "go",
	}

	queries := CandidateQueries(config, "gce", 1)
	require.Len(t, queries, 7)

	// Cascade tiers after the cumulative full set, most specific first
	assert.Equal(t, map[string]string{"dist": "trusty", "language_go": "true"}, queries[1].Tags)
	assert.False(t, queries[1].IsDefault)
	assert.Equal(t, map[string]string{"os": "linux", "language_go": "true"}, queries[2].Tags)
	assert.Equal(t, map[string]string{"os": "linux", "dist": "trusty"}, queries[3].Tags)

	// Single-field default tiers last, in fixed order
	assert.Equal(t, map[string]string{"language_go": "true"}, queries[4].Tags)
	assert.True(t, queries[4].IsDefault)
	assert.Equal(t, map[string]string{"dist": "trusty"}, queries[5].Tags)
	assert.True(t, queries[5].IsDefault)
	assert.Equal(t, map[string]string{"os": "linux"}, queries[6].Tags)
	assert.True(t, queries[6].IsDefault)
}

func TestCandidateQueries_DistLanguageBeforeDefaults(t *testing.T) {
	config := map[string]any{
		"os":       "linux",
		"dist":     "xenial",
		"language": "ruby",
	}

	queries := CandidateQueries(config, "gce", 1)

	distLang := -1
	firstDefault := -1
	for i, q := range queries {
		if i > 0 && q.IsDefault && firstDefault == -1 {
			firstDefault = i
		}
		if !q.IsDefault && len(q.Tags) == 2 && q.Tags["dist"] == "xenial" && q.Tags["language_ruby"] == "true" {
			distLang = i
		}
	}

	require.NotEqual(t, -1, distLang)
	require.NotEqual(t, -1, firstDefault)
	assert.Less(t, distLang, firstDefault)
}

func TestCandidateQueries_OSX(t *testing.T) {
	config := map[string]any{
		"os":        "osx",
		"osx_image": "xcode12",
		"language":  "objective-c",
	}

	queries := CandidateQueries(config, "macstadium", 1)
	require.NotEmpty(t, queries)

	// Most specific cascade tier pins the osx_image with os=osx
	assert.Equal(t, map[string]string{"osx_image": "xcode12", "os": "osx"}, queries[1].Tags)
	assert.False(t, queries[1].IsDefault)

	// osx_image also appears as a default tier
	found := false
	for _, q := range queries[2:] {
		if q.IsDefault && len(q.Tags) == 1 && q.Tags["osx_image"] == "xcode12" {
			found = true
		}
	}
	assert.True(t, found, "expected a default-tier osx_image query")
}

func TestCandidateQueries_OSXSkipsDistLanguageTier(t *testing.T) {
	config := map[string]any{
		"os":       "macos",
		"dist":     "trusty",
		"language": "swift",
	}

	for _, q := range CandidateQueries(config, "macstadium", 1) {
		if !q.IsDefault && len(q.Tags) == 2 && q.Tags["dist"] != "" && q.Tags["language_swift"] == "true" {
			t.Fatalf("dist+language tier must not apply to apple-platform jobs: %v", q.Tags)
		}
	}
}

func TestCandidateQueries_BlankValuesAreAbsent(t *testing.T) {
	config := map[string]any{
		"os":       "  ",
		"dist":     "",
		"language": "go",
	}

	queries := CandidateQueries(config, "gce", 1)
	require.Len(t, queries, 2)
	assert.Equal(t, map[string]string{"language_go": "true"}, queries[0].Tags)
	assert.Equal(t, map[string]string{"language_go": "true"}, queries[1].Tags)
	assert.True(t, queries[1].IsDefault)
}

func TestCandidateQueries_GroupTiers(t *testing.T) {
	config := map[string]any{
		"os":       "linux",
		"dist":     "trusty",
		"group":    "edge",
		"language": "rust",
	}

	queries := CandidateQueries(config, "gce", 1)

	assert.Equal(t, map[string]string{
		"dist":          "trusty",
		"group":         "edge",
		"language_rust": "true",
	}, queries[1].Tags)
	assert.Equal(t, map[string]string{
		"dist":          "trusty",
		"language_rust": "true",
	}, queries[2].Tags)
	assert.Equal(t, map[string]string{
		"group":         "edge",
		"language_rust": "true",
	}, queries[3].Tags)
}

func TestResolve_FirstMatchWins(t *testing.T) {
	finder := &fakeFinder{
		match: func(q Query) []string {
			if q.IsDefault && len(q.Tags) == 1 && q.Tags["dist"] == "trusty" {
				return []string{"travis-ci-trusty"}
			}
			return nil
		},
	}
	engine := New(finder, testLogger())

	name, err := engine.Resolve(context.Background(), map[string]any{"dist": "trusty"}, "gce")
	require.NoError(t, err)
	assert.Equal(t, "travis-ci-trusty", name)
}

func TestResolve_StopsAtFirstMatch(t *testing.T) {
	finder := &fakeFinder{
		match: func(q Query) []string {
			return []string{"always"}
		},
	}
	engine := New(finder, testLogger())

	name, err := engine.Resolve(context.Background(), map[string]any{"os": "linux", "language": "go"}, "gce")
	require.NoError(t, err)
	assert.Equal(t, "always", name)
	assert.Len(t, finder.queries, 1)
}

func TestResolve_FallbackDefault(t *testing.T) {
	finder := &fakeFinder{}
	engine := New(finder, testLogger())

	name, err := engine.Resolve(context.Background(), map[string]any{}, "gce")
	require.NoError(t, err)
	assert.Equal(t, FallbackImageName, name)
}

func TestResolve_EmptyDescriptorIssuesOnlyFullSetQuery(t *testing.T) {
	finder := &fakeFinder{}
	engine := New(finder, testLogger())

	_, err := engine.Resolve(context.Background(), map[string]any{"branch": "main"}, "gce")
	require.NoError(t, err)
	require.Len(t, finder.queries, 1)
	assert.Empty(t, finder.queries[0].Tags)
}

func TestResolve_FinderError(t *testing.T) {
	finder := &fakeFinder{err: assert.AnError}
	engine := New(finder, testLogger())

	_, err := engine.Resolve(context.Background(), map[string]any{"os": "linux"}, "gce")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestResolve_NonStringConfigValues(t *testing.T) {
	finder := &fakeFinder{}
	engine := New(finder, testLogger())

	_, err := engine.Resolve(context.Background(), map[string]any{"dist": float64(14)}, "gce")
	require.NoError(t, err)

	require.Len(t, finder.queries, 2)
	assert.Equal(t, map[string]string{"dist": "14"}, finder.queries[1].Tags)
}
