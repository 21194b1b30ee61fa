package api

import (
	"net/http"

	"github.com/Keyring-Network/keyring-chat/internal/store"
)

type modelResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ModelID           string `json:"modelId"`
	Description       string `json:"description,omitempty"`
	Provider          string `json:"provider"`
	SupportsImage     bool   `json:"supportsImage"`
	SupportsFile      bool   `json:"supportsFile"`
	SupportsWebSearch bool   `json:"supportsWebSearch"`
	HasReasoning      bool   `json:"hasReasoning"`
	IsPremium         bool   `json:"isPremium"`
	IsFree            bool   `json:"isFree"`
	PromptPrice       string `json:"promptPrice"`
	CompletionPrice   string `json:"completionPrice"`
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}
	out := make([]modelResponse, 0, len(models))
	for _, model := range models {
		out = append(out, toModelResponse(model))
	}
	writeJSONStatus(w, map[string]any{"models": out}, http.StatusOK)
}

func toModelResponse(model store.AIModel) modelResponse {
	return modelResponse{
		ID:                model.ID,
		Name:              model.Name,
		ModelID:           model.ModelID,
		Description:       model.Description,
		Provider:          model.Provider,
		SupportsImage:     model.SupportsImage,
		SupportsFile:      model.SupportsFile,
		SupportsWebSearch: model.SupportsWebSearch,
		HasReasoning:      model.HasReasoning,
		IsPremium:         model.IsPremium,
		IsFree:            model.IsFree(),
		PromptPrice:       model.PromptPrice.String(),
		CompletionPrice:   model.CompletionPrice.String(),
	}
}
