package tools

import (
	"context"
	"fmt"

	"github.com/opentalon/panelpilot/internal/panel"
	"github.com/opentalon/panelpilot/internal/resolve"
)

type typeSummary struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type categorySummary struct {
	ID    int           `json:"id"`
	Name  string        `json:"name"`
	Types []typeSummary `json:"types"`
}

type typeCatalog struct {
	Categories []categorySummary `json:"categories"`
}

type variableInfo struct {
	Name        string `json:"name"`
	Env         string `json:"env"`
	Default     string `json:"default"`
	Editable    bool   `json:"editable"`
	Rules       string `json:"rules,omitempty"`
	Description string `json:"description,omitempty"`
}

type typeDescription struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Category    string         `json:"category"`
	DockerImage string         `json:"docker_image"`
	Startup     string         `json:"startup"`
	Variables   []variableInfo `json:"variables"`
}

func (tb *Toolbox) listServerTypes(ctx context.Context, args Args) (any, error) {
	cats, err := tb.gw.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing server types: %w", err)
	}
	if q := args.String("category"); q != "" {
		cat, err := resolve.ResolveCategory(q, cats)
		if err != nil {
			return nil, err
		}
		cats = []panel.Category{cat}
	}
	out := typeCatalog{Categories: make([]categorySummary, 0, len(cats))}
	for _, c := range cats {
		cs := categorySummary{ID: c.ID, Name: c.Name, Types: make([]typeSummary, 0, len(c.Types))}
		for _, t := range c.Types {
			cs.Types = append(cs.Types, typeSummary{ID: t.ID, Name: t.Name, Description: t.Description})
		}
		out.Categories = append(out.Categories, cs)
	}
	return out, nil
}

// lookupType resolves a type reference and fetches its details.
func (tb *Toolbox) lookupType(ctx context.Context, query, category string) (panel.Category, *panel.TypeDetails, error) {
	cats, err := tb.gw.ListCategories(ctx)
	if err != nil {
		return panel.Category{}, nil, fmt.Errorf("listing server types: %w", err)
	}
	out := resolve.ResolveType(query, category, cats)
	if err := out.Err(query); err != nil {
		return panel.Category{}, nil, err
	}
	details, err := tb.gw.TypeDetails(ctx, out.Category.ID, out.Type.ID)
	if err != nil {
		return panel.Category{}, nil, fmt.Errorf("fetching server type %s: %w", out.Type.Name, err)
	}
	if details == nil {
		return panel.Category{}, nil, &resolve.Error{Status: resolve.NotFound, Kind: "server type", Query: query}
	}
	if details.DockerImage == "" {
		details.DockerImage = out.Type.DockerImage
	}
	if details.Startup == "" {
		details.Startup = out.Type.Startup
	}
	if details.Name == "" {
		details.Name = out.Type.Name
	}
	return out.Category, details, nil
}

func (tb *Toolbox) describeServerType(ctx context.Context, args Args) (any, error) {
	query, err := args.RequireString("type")
	if err != nil {
		return nil, err
	}
	cat, details, err := tb.lookupType(ctx, query, args.String("category"))
	if err != nil {
		return nil, err
	}
	out := typeDescription{
		ID:          details.ID,
		Name:        details.Name,
		Category:    cat.Name,
		DockerImage: details.DockerImage,
		Startup:     details.Startup,
		Variables:   make([]variableInfo, 0, len(details.Variables)),
	}
	for _, v := range details.Variables {
		out.Variables = append(out.Variables, variableInfo{
			Name:        v.Name,
			Env:         v.EnvVariable,
			Default:     v.DefaultValue,
			Editable:    v.UserEditable,
			Rules:       v.Rules,
			Description: v.Description,
		})
	}
	return out, nil
}
