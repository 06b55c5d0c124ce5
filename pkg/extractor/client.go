package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Статусы, которые возвращает сервис извлечения
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Client представляет клиент для работы с сервисом извлечения данных
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Config конфигурация для подключения к сервису
type Config struct {
	BaseURL string `json:"base_url"`
	Timeout int    `json:"timeout"` // в секундах
}

// ProcessResult ответ сервиса на обработку документа
type ProcessResult struct {
	Status             string                 `json:"status"`
	Message            string                 `json:"message,omitempty"`
	Filename           string                 `json:"filename,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	StructuredMarkdown string                 `json:"structured_markdown,omitempty"`
	GeneratedJSON      json.RawMessage        `json:"generated_json,omitempty"`
	SuggestedPrompt    string                 `json:"suggested_prompt,omitempty"`
}

// TryResult ответ сервиса на пробное применение промпта
type TryResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// SaveResult ответ сервиса на сохранение промпта
type SaveResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ServiceError логическая ошибка сервиса (status != success)
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NewClient создает новый клиент сервиса извлечения
func NewClient(config Config) *Client {
	timeout := 180 // обработка документа идет через LLM, быстрых ответов не бывает
	if config.Timeout > 0 {
		timeout = config.Timeout
	}

	return &Client{
		BaseURL: config.BaseURL,
		HTTPClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}
}

// ProcessDocument отправляет файл вместе со схемой извлечения на обработку.
// Возвращает разметку, метаданные (включая layout), извлеченный JSON и
// предложенный промпт, если он есть для данного layout.
func (c *Client) ProcessDocument(ctx context.Context, file io.Reader, fileName, schemaJSON string) (*ProcessResult, error) {
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	if err := writer.WriteField("schema_json", schemaJSON); err != nil {
		return nil, fmt.Errorf("не удалось добавить схему: %w", err)
	}

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать поле для файла: %w", err)
	}

	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("не удалось скопировать файл: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("ошибка закрытия writer: %w", err)
	}

	url := c.BaseURL + "/process-document/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buffer)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать запрос: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result ProcessResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ошибка парсинга ответа сервиса: %w", err)
	}

	if result.Status != StatusSuccess {
		return nil, &ServiceError{Message: result.Message}
	}

	return &result, nil
}

// TryPrompt пробует промпт на текущей разметке документа без сохранения
func (c *Client) TryPrompt(ctx context.Context, prompt, structuredMarkdown string) (*TryResult, error) {
	payload := map[string]string{
		"prompt":              prompt,
		"structured_markdown": structuredMarkdown,
	}

	body, err := c.postJSON(ctx, "/try-prompt/", payload)
	if err != nil {
		return nil, err
	}

	var result TryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ошибка парсинга ответа сервиса: %w", err)
	}

	if result.Status != StatusSuccess {
		return nil, &ServiceError{Message: result.Message}
	}

	return &result, nil
}

// SavePrompt сохраняет промпт, привязанный к layout документа
func (c *Client) SavePrompt(ctx context.Context, layout interface{}, prompt string) (*SaveResult, error) {
	payload := map[string]interface{}{
		"layout": layout,
		"prompt": prompt,
	}

	body, err := c.postJSON(ctx, "/save-prompt/", payload)
	if err != nil {
		return nil, err
	}

	var result SaveResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ошибка парсинга ответа сервиса: %w", err)
	}

	if result.Status != StatusSuccess {
		return nil, &ServiceError{Message: result.Message}
	}

	return &result, nil
}

// Layout возвращает идентификатор структуры документа из метаданных.
// Пока не было успешной обработки, layout отсутствует.
func (r *ProcessResult) Layout() (interface{}, bool) {
	if r == nil || r.Metadata == nil {
		return nil, false
	}
	layout, ok := r.Metadata["layout"]
	if !ok || layout == nil {
		return nil, false
	}
	return layout, true
}

// LayoutColumns возвращает список колонок layout, если сервис его определил
func (r *ProcessResult) LayoutColumns() []string {
	layout, ok := r.Layout()
	if !ok {
		return nil
	}

	items, ok := layout.([]interface{})
	if !ok {
		return nil
	}

	columns := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			columns = append(columns, s)
		}
	}
	return columns
}

// postJSON отправляет JSON запрос на указанный эндпоинт сервиса
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации данных: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("не удалось создать запрос: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

// do выполняет запрос и возвращает тело ответа.
// Сервис сообщает о логических ошибках полем status при HTTP 200,
// поэтому не-2xx статус означает транспортную проблему.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("сервис вернул ошибку %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
