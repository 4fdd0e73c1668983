package toolexecutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/memeagent/internal/observability"
	"github.com/rs/zerolog/log"
)

// CatalogRequest selects tools from a catalog.
type CatalogRequest struct {
	Toolkits []string // whole toolkits, e.g. Imgflip
	Tools    []string // individual dotted tool names, e.g. Slack.SendMessage
	UserID   string
	Limit    int // maximum number of tools returned; 0 means unlimited
}

// Catalog resolves tool selections into callable definitions.
type Catalog interface {
	Name() string
	Tools(ctx context.Context, req CatalogRequest) ([]ToolDefinition, error)
}

// RegisterCatalog loads tools from a catalog and registers them. A name
// already taken by another source is prefixed with the catalog name; the
// original name stays reachable through QualifiedName.
func (te *ToolExecutor) RegisterCatalog(ctx context.Context, catalog Catalog, req CatalogRequest) ([]string, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}

	defs, err := catalog.Tools(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s tools: %w", catalog.Name(), err)
	}

	registered := make([]string, 0, len(defs))
	for _, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			continue
		}

		if existing := te.GetTool(def.Name); existing != nil && existing.Source != def.Source {
			prefixed := catalog.Name() + "_" + def.Name
			log.Warn().
				Str("original_name", def.Name).
				Str("prefixed_name", prefixed).
				Str("source", catalog.Name()).
				Msg("Tool name conflict resolved by prefixing with catalog name")
			if def.QualifiedName == "" {
				def.QualifiedName = def.Name
			}
			def.Name = prefixed
		}

		if err := te.RegisterTool(def); err != nil {
			return registered, fmt.Errorf("failed to register %s tool %s: %w", catalog.Name(), def.Name, err)
		}
		registered = append(registered, def.Name)
	}

	observability.SetCatalogTools(catalog.Name(), len(registered))
	log.Info().Str("source", catalog.Name()).Int("count", len(registered)).Msg("Tools registered")

	return registered, nil
}

// truncateDefinitions enforces a catalog limit, keeping the first entries.
func truncateDefinitions(source string, defs []ToolDefinition, limit int) []ToolDefinition {
	if limit <= 0 || len(defs) <= limit {
		return defs
	}
	log.Warn().
		Str("source", source).
		Int("available", len(defs)).
		Int("limit", limit).
		Msg("Tool catalog exceeds limit, truncating")
	return defs[:limit]
}
