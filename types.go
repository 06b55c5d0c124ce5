package main

import "encoding/json"

// Единый формат ответа гейтвея
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Результат обработки документа, отдаваемый странице
type ProcessView struct {
	Filename           string                 `json:"filename,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	StructuredMarkdown string                 `json:"structured_markdown,omitempty"`
	GeneratedJSON      json.RawMessage        `json:"generated_json,omitempty"`
	SuggestedPrompt    string                 `json:"suggested_prompt,omitempty"`
	PreviewURL         string                 `json:"preview_url,omitempty"`
	SchemaWarning      string                 `json:"schema_warning,omitempty"`
}

// Запрос пробного применения промпта
type TryPromptRequest struct {
	Prompt             string `json:"prompt"`
	StructuredMarkdown string `json:"structured_markdown"`
}

// Запрос сохранения промпта для layout
type SavePromptRequest struct {
	Layout json.RawMessage `json:"layout"`
	Prompt string          `json:"prompt"`
}
