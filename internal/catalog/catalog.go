// Package catalog loads the AIModel reference data offered in the model
// selector and seeds it into the store.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Keyring-Network/keyring-chat/internal/store"
)

//go:embed default_models.yaml
var defaultModels []byte

type Entry struct {
	Name              string `yaml:"name"`
	ModelID           string `yaml:"model_id"`
	Provider          string `yaml:"provider"`
	Description       string `yaml:"description"`
	SupportsImage     bool   `yaml:"supports_image"`
	SupportsFile      bool   `yaml:"supports_file"`
	SupportsWebSearch bool   `yaml:"supports_web_search"`
	HasReasoning      bool   `yaml:"has_reasoning"`
	IsPremium         bool   `yaml:"is_premium"`
	PromptPrice       string `yaml:"prompt_price"`
	CompletionPrice   string `yaml:"completion_price"`
}

type file struct {
	Models []Entry `yaml:"models"`
}

// Parse decodes a catalog document. Prices are per one million tokens and
// default to zero.
func Parse(data []byte) ([]store.AIModel, error) {
	var doc file
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	seen := map[string]struct{}{}
	models := make([]store.AIModel, 0, len(doc.Models))
	for i, entry := range doc.Models {
		modelID := strings.TrimSpace(entry.ModelID)
		if modelID == "" {
			return nil, fmt.Errorf("catalog entry %d: model_id is required", i)
		}
		if _, ok := seen[modelID]; ok {
			return nil, fmt.Errorf("catalog entry %d: duplicate model_id %q", i, modelID)
		}
		seen[modelID] = struct{}{}
		prompt, err := parsePrice(entry.PromptPrice)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %s: prompt_price: %w", modelID, err)
		}
		completion, err := parsePrice(entry.CompletionPrice)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %s: completion_price: %w", modelID, err)
		}
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = modelID
		}
		provider := strings.TrimSpace(entry.Provider)
		if provider == "" {
			provider = providerFromModelID(modelID)
		}
		models = append(models, store.AIModel{
			Name:              name,
			ModelID:           modelID,
			Description:       strings.TrimSpace(entry.Description),
			Provider:          provider,
			SupportsImage:     entry.SupportsImage,
			SupportsFile:      entry.SupportsFile,
			SupportsWebSearch: entry.SupportsWebSearch,
			HasReasoning:      entry.HasReasoning,
			IsPremium:         entry.IsPremium,
			PromptPrice:       prompt,
			CompletionPrice:   completion,
		})
	}
	return models, nil
}

// Load returns the embedded catalog, or the file at path when one is given.
func Load(path string) ([]store.AIModel, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Parse(defaultModels)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// EnsureSeed upserts every catalog entry. Existing rows keep their ids.
func EnsureSeed(ctx context.Context, st store.ModelStore, path string) (int, error) {
	models, err := Load(path)
	if err != nil {
		return 0, err
	}
	existing, err := st.ListModels(ctx)
	if err != nil {
		return 0, err
	}
	ids := make(map[string]string, len(existing))
	for _, model := range existing {
		ids[model.ModelID] = model.ID
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, model := range models {
		if id, ok := ids[model.ModelID]; ok {
			model.ID = id
		} else {
			model.ID = uuid.NewString()
		}
		model.CreatedAt = now
		if err := st.UpsertModel(ctx, model); err != nil {
			return 0, fmt.Errorf("seed model %s: %w", model.ModelID, err)
		}
	}
	return len(models), nil
}

func parsePrice(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative price %s", value)
	}
	return price, nil
}

func providerFromModelID(modelID string) string {
	if prefix, _, ok := strings.Cut(modelID, "/"); ok {
		return prefix
	}
	return "unknown"
}
