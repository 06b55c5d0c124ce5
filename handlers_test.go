package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docextract/pkg/extractor"
)

// Поднимаем мок сервиса извлечения и настраиваем глобальное состояние гейтвея.
// Возвращает счетчик запросов, дошедших до сервиса.
func setupGatewayTest(t *testing.T, backend http.HandlerFunc) *int {
	t.Helper()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		backend(w, r)
	}))
	t.Cleanup(server.Close)

	apiClient = extractor.NewClient(extractor.Config{BaseURL: server.URL, Timeout: 5})

	store, err := newPreviewStore(2)
	if err != nil {
		t.Fatalf("Не удалось создать хранилище предпросмотров: %v", err)
	}
	previews = store
	t.Cleanup(store.ReleaseAll)

	maxFileSize = 10 << 20
	processTimeout = 5 * time.Second

	return &calls
}

// Собираем multipart запрос обработки документа
func buildProcessRequest(t *testing.T, fileName, fileContent, schema string) *http.Request {
	t.Helper()

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	if err := writer.WriteField("schema_json", schema); err != nil {
		t.Fatalf("Не удалось добавить схему: %v", err)
	}

	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("Не удалось создать поле файла: %v", err)
		}
		if _, err := io.WriteString(part, fileContent); err != nil {
			t.Fatalf("Не удалось записать файл: %v", err)
		}
	}

	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/process-document", &buffer)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder) APIResponse {
	t.Helper()

	var response APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Не удалось распарсить ответ гейтвея: %v", err)
	}
	return response
}

// Без файла запрос к сервису не уходит вообще
func TestProcessDocumentWithoutFile(t *testing.T) {
	calls := setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {})

	rr := httptest.NewRecorder()
	handleProcessDocument(rr, buildProcessRequest(t, "", "", `{"order_id": ""}`))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Ожидался статус 400, получен %d", rr.Code)
	}

	response := decodeAPIResponse(t, rr)
	if !strings.Contains(response.Message, "Файл не выбран") {
		t.Errorf("Неожиданное сообщение: %s", response.Message)
	}

	if *calls != 0 {
		t.Errorf("Запрос не должен был дойти до сервиса, вызовов: %d", *calls)
	}
}

// Пустая схема (и схема из одних пробелов) отклоняется до отправки
func TestProcessDocumentBlankSchema(t *testing.T) {
	calls := setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, schema := range []string{"", "   ", "\n\t "} {
		rr := httptest.NewRecorder()
		handleProcessDocument(rr, buildProcessRequest(t, "invoice.pdf", "%PDF", schema))

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Схема %q: ожидался статус 400, получен %d", schema, rr.Code)
		}

		response := decodeAPIResponse(t, rr)
		if !strings.Contains(response.Message, "Схема извлечения обязательна") {
			t.Errorf("Схема %q: неожиданное сообщение: %s", schema, response.Message)
		}
	}

	if *calls != 0 {
		t.Errorf("Запросы не должны были дойти до сервиса, вызовов: %d", *calls)
	}
}

// Кривой JSON схемы отклоняется локально
func TestProcessDocumentMalformedSchema(t *testing.T) {
	calls := setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {})

	rr := httptest.NewRecorder()
	handleProcessDocument(rr, buildProcessRequest(t, "invoice.pdf", "%PDF", `{order_id}`))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Ожидался статус 400, получен %d", rr.Code)
	}

	if *calls != 0 {
		t.Errorf("Запрос не должен был дойти до сервиса, вызовов: %d", *calls)
	}
}

// Неподдерживаемое расширение отклоняется локально
func TestProcessDocumentWrongExtension(t *testing.T) {
	calls := setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {})

	rr := httptest.NewRecorder()
	handleProcessDocument(rr, buildProcessRequest(t, "archive.zip", "PK", `{"a": ""}`))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Ожидался статус 400, получен %d", rr.Code)
	}

	if *calls != 0 {
		t.Errorf("Запрос не должен был дойти до сервиса, вызовов: %d", *calls)
	}
}

// Успешная обработка: результаты сервиса отдаются странице целиком,
// для PDF появляется предпросмотр
func TestProcessDocumentSuccess(t *testing.T) {
	setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"filename": "invoice.pdf",
			"metadata": {"layout": ["order_id"], "language": "Russian"},
			"structured_markdown": "# Счет",
			"generated_json": {"order_id": "123"},
			"suggested_prompt": "суммируй"
		}`))
	})

	rr := httptest.NewRecorder()
	handleProcessDocument(rr, buildProcessRequest(t, "invoice.pdf", "%PDF-1.4 тело", `{"order_id": ""}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("Ожидался статус 200, получен %d: %s", rr.Code, rr.Body.String())
	}

	var response struct {
		Status string      `json:"status"`
		Data   ProcessView `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Не удалось распарсить ответ: %v", err)
	}

	if response.Status != "success" {
		t.Errorf("Неожиданный статус: %s", response.Status)
	}

	var generated map[string]string
	if err := json.Unmarshal(response.Data.GeneratedJSON, &generated); err != nil {
		t.Fatalf("Не удалось распарсить generated_json: %v", err)
	}
	if generated["order_id"] != "123" {
		t.Errorf("Панель JSON должна показывать order_id=123, получено: %v", generated)
	}

	if response.Data.StructuredMarkdown != "# Счет" {
		t.Errorf("Неожиданная разметка: %s", response.Data.StructuredMarkdown)
	}

	if response.Data.SchemaWarning != "" {
		t.Errorf("Проверка схемы не должна ругаться: %s", response.Data.SchemaWarning)
	}

	// Предпросмотр PDF сохранен и доступен
	if response.Data.PreviewURL == "" {
		t.Fatal("Для PDF должен появиться предпросмотр")
	}
	if previews.Len() != 1 {
		t.Errorf("Ожидался один предпросмотр, получено %d", previews.Len())
	}

	previewReq := httptest.NewRequest(http.MethodGet, response.Data.PreviewURL, nil)
	previewRR := httptest.NewRecorder()
	handlePreview(previewRR, previewReq)

	if previewRR.Code != http.StatusOK {
		t.Errorf("Предпросмотр недоступен, статус %d", previewRR.Code)
	}
	if previewRR.Body.String() != "%PDF-1.4 тело" {
		t.Errorf("Содержимое предпросмотра не совпадает с файлом")
	}
}

// Логическая ошибка сервиса: сообщение уходит странице, статус 422
func TestProcessDocumentServiceError(t *testing.T) {
	setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "error", "message": "bad schema"}`))
	})

	rr := httptest.NewRecorder()
	handleProcessDocument(rr, buildProcessRequest(t, "invoice.pdf", "%PDF", `{"order_id": ""}`))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("Ожидался статус 422, получен %d", rr.Code)
	}

	response := decodeAPIResponse(t, rr)
	if !strings.Contains(response.Message, "bad schema") {
		t.Errorf("Сообщение сервиса потерялось: %s", response.Message)
	}
}

// Пока документ обрабатывается, повторная отправка получает 409
func TestProcessDocumentBusy(t *testing.T) {
	calls := setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {})

	processBusy.Store(true)
	defer processBusy.Store(false)

	rr := httptest.NewRecorder()
	handleProcessDocument(rr, buildProcessRequest(t, "invoice.pdf", "%PDF", `{"a": ""}`))

	if rr.Code != http.StatusConflict {
		t.Errorf("Ожидался статус 409, получен %d", rr.Code)
	}

	if *calls != 0 {
		t.Errorf("Запрос не должен был дойти до сервиса, вызовов: %d", *calls)
	}
}

// Пустой промпт отклоняется до отправки
func TestTryPromptEmptyPrompt(t *testing.T) {
	calls := setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {})

	body := strings.NewReader(`{"prompt": "   ", "structured_markdown": "# Документ"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/try-prompt", body)
	rr := httptest.NewRecorder()
	handleTryPrompt(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Ожидался статус 400, получен %d", rr.Code)
	}

	if *calls != 0 {
		t.Errorf("Запрос не должен был дойти до сервиса, вызовов: %d", *calls)
	}
}

// Результат пробного промпта отдается дословно
func TestTryPromptSuccess(t *testing.T) {
	setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "success", "result": {"ok": true}}`))
	})

	body := strings.NewReader(`{"prompt": "summarize", "structured_markdown": "# Документ"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/try-prompt", body)
	rr := httptest.NewRecorder()
	handleTryPrompt(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Ожидался статус 200, получен %d: %s", rr.Code, rr.Body.String())
	}

	var response struct {
		Status string `json:"status"`
		Data   struct {
			Result json.RawMessage `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Не удалось распарсить ответ: %v", err)
	}

	var ok map[string]bool
	if err := json.Unmarshal(response.Data.Result, &ok); err != nil {
		t.Fatalf("Не удалось распарсить result: %v", err)
	}
	if !ok["ok"] {
		t.Errorf("Неожиданный result: %s", string(response.Data.Result))
	}
}

// Сбой сервиса на пробном промпте отдается как JSON ошибки, без алерта
func TestTryPromptBackendFailure(t *testing.T) {
	setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	body := strings.NewReader(`{"prompt": "summarize", "structured_markdown": "# Документ"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/try-prompt", body)
	rr := httptest.NewRecorder()
	handleTryPrompt(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("Ожидался статус 502, получен %d", rr.Code)
	}

	response := decodeAPIResponse(t, rr)
	if response.Status != "error" || response.Message == "" {
		t.Errorf("Страница ждет объект ошибки, получено: %+v", response)
	}
}

// Сохранение без layout (то есть до успешной обработки) не уходит к сервису
func TestSavePromptWithoutLayout(t *testing.T) {
	calls := setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, layout := range []string{`null`, `""`, `[]`} {
		body := strings.NewReader(`{"layout": ` + layout + `, "prompt": "суммируй"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/save-prompt", body)
		rr := httptest.NewRecorder()
		handleSavePrompt(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Layout %s: ожидался статус 400, получен %d", layout, rr.Code)
		}

		response := decodeAPIResponse(t, rr)
		if !strings.Contains(response.Message, "Сначала обработайте документ") {
			t.Errorf("Layout %s: неожиданное сообщение: %s", layout, response.Message)
		}
	}

	if *calls != 0 {
		t.Errorf("Запросы не должны были дойти до сервиса, вызовов: %d", *calls)
	}
}

// Успешное сохранение подтверждается сообщением
func TestSavePromptSuccess(t *testing.T) {
	setupGatewayTest(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("Не удалось распарсить запрос: %v", err)
		}
		if payload["prompt"] != "суммируй" {
			t.Errorf("Неожиданный промпт: %v", payload["prompt"])
		}
		if _, ok := payload["layout"].([]interface{}); !ok {
			t.Errorf("Неожиданный layout: %v", payload["layout"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "success", "message": "Prompt saved"}`))
	})

	body := strings.NewReader(`{"layout": ["order_id"], "prompt": "суммируй"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/save-prompt", body)
	rr := httptest.NewRecorder()
	handleSavePrompt(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Ожидался статус 200, получен %d: %s", rr.Code, rr.Body.String())
	}

	response := decodeAPIResponse(t, rr)
	if response.Message != "Промпт сохранен" {
		t.Errorf("Неожиданное сообщение: %s", response.Message)
	}
}

// Проверка здоровья сервиса
func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handleHealthCheck(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Ожидался статус 200, получен %d", rr.Code)
	}

	response := decodeAPIResponse(t, rr)
	if response.Status != "success" {
		t.Errorf("Неожиданный статус: %s", response.Status)
	}
}
