// Package resolver turns a job's build environment descriptor into an
// ordered cascade of tag queries against the image catalog and picks the
// first image that matches.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// FallbackImageName is returned when no catalog query yields a result
const FallbackImageName = "default"

const defaultQueryLimit = 1

// Query describes one candidate image lookup
type Query struct {
	Infra     string
	Tags      map[string]string
	IsDefault bool
	Limit     int
}

// ImageFinder executes a single candidate query against the image catalog
type ImageFinder interface {
	FindImageNames(ctx context.Context, query Query) ([]string, error)
}

// Engine resolves image names from job config descriptors
type Engine struct {
	finder ImageFinder
	logger *slog.Logger
}

// New creates a resolution engine backed by the given catalog
func New(finder ImageFinder, logger *slog.Logger) *Engine {
	return &Engine{
		finder: finder,
		logger: logger,
	}
}

// Resolve evaluates the candidate queries in order and returns the name
// of the first matching image, or FallbackImageName when nothing matches.
func (e *Engine) Resolve(ctx context.Context, config map[string]any, infra string) (string, error) {
	for _, query := range CandidateQueries(config, infra, defaultQueryLimit) {
		names, err := e.finder.FindImageNames(ctx, query)
		if err != nil {
			return "", fmt.Errorf("image query failed: %w", err)
		}
		if len(names) > 0 {
			e.logger.Debug("resolved image",
				slog.String("name", names[0]),
				slog.String("infra", infra),
				slog.Any("tags", query.Tags),
			)
			return names[0], nil
		}
	}

	return FallbackImageName, nil
}

// descriptor wraps a job config document for tag extraction
type descriptor struct {
	config map[string]any
}

func (d descriptor) val(key string) string {
	v, ok := d.config[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// has reports whether every key is present with a non-blank value
func (d descriptor) has(keys ...string) bool {
	for _, key := range keys {
		if strings.TrimSpace(d.val(key)) == "" {
			return false
		}
	}
	return true
}

func (d descriptor) osx() bool {
	os := d.val("os")
	return os == "osx" || os == "macos"
}

func (d descriptor) languageKey() string {
	return "language_" + d.val("language")
}

// tagBuilder returns the tag set for one cascade tier, or nil when the
// tier does not apply to the descriptor
type tagBuilder func(d descriptor) map[string]string

// cascadeTiers are evaluated most specific first, all non-default
var cascadeTiers = []tagBuilder{
	func(d descriptor) map[string]string {
		if !d.osx() || !d.has("osx_image") {
			return nil
		}
		return map[string]string{
			"osx_image": d.val("osx_image"),
			"os":        "osx",
		}
	},
	func(d descriptor) map[string]string {
		if !d.has("dist", "group", "language") {
			return nil
		}
		return map[string]string{
			"dist":          d.val("dist"),
			"group":         d.val("group"),
			d.languageKey(): "true",
		}
	},
	func(d descriptor) map[string]string {
		if !d.has("dist", "language") || d.osx() {
			return nil
		}
		return map[string]string{
			"dist":          d.val("dist"),
			d.languageKey(): "true",
		}
	},
	func(d descriptor) map[string]string {
		if !d.has("group", "language") {
			return nil
		}
		return map[string]string{
			"group":         d.val("group"),
			d.languageKey(): "true",
		}
	},
	func(d descriptor) map[string]string {
		if !d.has("os", "language") {
			return nil
		}
		return map[string]string{
			"os":            d.val("os"),
			d.languageKey(): "true",
		}
	},
	func(d descriptor) map[string]string {
		if !d.has("os", "dist") {
			return nil
		}
		return map[string]string{
			"os":   d.val("os"),
			"dist": d.val("dist"),
		}
	},
}

// defaultTiers each key a single field; matching entries are restricted
// to default images and also folded into the cumulative full tag set
var defaultTiers = []tagBuilder{
	func(d descriptor) map[string]string {
		if !d.has("language") {
			return nil
		}
		return map[string]string{d.languageKey(): "true"}
	},
	func(d descriptor) map[string]string {
		if !d.osx() || !d.has("osx_image") {
			return nil
		}
		return map[string]string{"osx_image": d.val("osx_image")}
	},
	func(d descriptor) map[string]string {
		if !d.has("dist") {
			return nil
		}
		return map[string]string{"dist": d.val("dist")}
	},
	func(d descriptor) map[string]string {
		if !d.has("group") {
			return nil
		}
		return map[string]string{"group": d.val("group")}
	},
	func(d descriptor) map[string]string {
		if !d.has("os") {
			return nil
		}
		return map[string]string{"os": d.val("os")}
	},
}

// CandidateQueries builds the ordered query cascade for a job config
// descriptor: the cumulative full tag set first, then the cascade tiers,
// then the single-field default tiers.
func CandidateQueries(config map[string]any, infra string, limit int) []Query {
	d := descriptor{config: config}

	var candidates []Query
	for _, build := range cascadeTiers {
		if tags := build(d); tags != nil {
			candidates = append(candidates, Query{
				Infra: infra,
				Tags:  tags,
				Limit: limit,
			})
		}
	}

	fullTagSet := map[string]string{}
	for _, build := range defaultTiers {
		tags := build(d)
		if tags == nil {
			continue
		}
		for k, v := range tags {
			fullTagSet[k] = v
		}
		candidates = append(candidates, Query{
			Infra:     infra,
			Tags:      tags,
			IsDefault: true,
			Limit:     limit,
		})
	}

	queries := make([]Query, 0, len(candidates)+1)
	queries = append(queries, Query{
		Infra:     infra,
		Tags:      fullTagSet,
		IsDefault: true,
		Limit:     limit,
	})
	return append(queries, candidates...)
}
