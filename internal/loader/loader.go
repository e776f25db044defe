// Package loader reads the corpus manifest, synonym dictionary and template
// packs from a resource Source.
package loader

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/knowledge-engine/promptrank/internal/corpus"
)

const (
	ManifestPath = "manifest.json"
	SynonymsPath = "synonyms.json"

	// maxConcurrentPacks bounds parallel pack fetches
	maxConcurrentPacks = 4
)

// Source resolves a relative resource path and decodes its JSON into v
type Source interface {
	FetchJSON(ctx context.Context, rel string, v any) error
}

// LoadManifest fetches and decodes manifest.json
func LoadManifest(ctx context.Context, src Source) (*corpus.Manifest, error) {
	var m corpus.Manifest
	if err := src.FetchJSON(ctx, ManifestPath, &m); err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return &m, nil
}

// LoadSynonymsDict fetches and decodes synonyms.json
func LoadSynonymsDict(ctx context.Context, src Source) (corpus.SynonymsDict, error) {
	dict := corpus.SynonymsDict{}
	if err := src.FetchJSON(ctx, SynonymsPath, &dict); err != nil {
		return nil, fmt.Errorf("load synonyms: %w", err)
	}
	return dict, nil
}

// LoadAllPacks fetches every pack the manifest references exactly once and
// returns their enabled templates in pack order. Any failing pack fails the
// whole load.
func LoadAllPacks(ctx context.Context, src Source, m *corpus.Manifest) ([]corpus.TemplateDoc, error) {
	files := m.PackFiles()
	packs := make([][]corpus.TemplateDoc, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPacks)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			var rows []corpus.TemplateDoc
			if err := src.FetchJSON(gctx, file, &rows); err != nil {
				return fmt.Errorf("load pack %s: %w", file, err)
			}
			for j := range rows {
				if err := rows[j].Validate(); err != nil {
					return fmt.Errorf("load pack %s: %w", file, err)
				}
			}
			packs[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []corpus.TemplateDoc
	for _, rows := range packs {
		for _, d := range rows {
			if d.Enabled {
				out = append(out, d)
			}
		}
	}
	return out, nil
}
