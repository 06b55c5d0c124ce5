package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"docextract/pkg/extractor"
)

// Глобальное состояние приложения
var (
	apiClient   *extractor.Client
	previews    *previewStore
	processBusy atomic.Bool // защита от параллельной обработки документов
)

// Главная страница - просто отдаем index.html
func handleHome(w http.ResponseWriter, r *http.Request) {
	// Защищаемся от попыток доступа к другим путям
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, staticDir+"/index.html")
}

// Обработка документа - основная фишка приложения.
// Принимает файл и схему извлечения, проверяет предусловия и пересылает
// их сервису извлечения. Ответ сервиса отдается странице целиком.
func handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, "Только POST запросы", http.StatusMethodNotAllowed)
		return
	}

	// Обработка идет минутами, повторная отправка до завершения запрещена
	if !processBusy.CompareAndSwap(false, true) {
		sendJSONError(w, "Документ уже обрабатывается, дождитесь завершения", http.StatusConflict)
		return
	}
	defer processBusy.Store(false)

	// Парсим multipart форму с лимитом размера
	if err := r.ParseMultipartForm(maxFileSize); err != nil {
		sendJSONError(w, "Файл слишком большой или проблемы с формой", http.StatusBadRequest)
		return
	}

	// Схема обязательна, пробелы не считаются
	schemaText := strings.TrimSpace(r.FormValue("schema_json"))
	if schemaText == "" {
		sendJSONError(w, "Схема извлечения обязательна", http.StatusBadRequest)
		return
	}

	// Схему проверяем до отправки: сервис кривой JSON все равно отклонит
	if _, err := extractor.ParseSchemaTemplate(schemaText); err != nil {
		sendJSONError(w, "Некорректная схема: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		sendJSONError(w, "Файл не выбран", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isValidFileType(header.Filename) {
		sendJSONError(w, "Поддерживаются только PDF, DOC, DOCX, XLS и XLSX файлы", http.StatusBadRequest)
		return
	}

	log.Printf("INFO: Получен файл: %s (размер: %d байт)", header.Filename, header.Size)

	// Для PDF сохраняем предпросмотр; предыдущий освобождается при вытеснении
	previewURL := ""
	if strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		previewID, err := previews.Put(header.Filename, file)
		if err != nil {
			log.Printf("WARNING: Не удалось сохранить предпросмотр: %v", err)
		} else {
			previewURL = "/preview/" + previewID
		}

		if seeker, ok := file.(io.Seeker); ok {
			seeker.Seek(0, 0)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), processTimeout)
	defer cancel()

	result, err := apiClient.ProcessDocument(ctx, file, header.Filename, schemaText)
	if err != nil {
		var serviceErr *extractor.ServiceError
		if errors.As(err, &serviceErr) {
			log.Printf("ERROR: Сервис отклонил документ %s: %s", header.Filename, serviceErr.Message)
			sendJSONError(w, serviceErr.Message, http.StatusUnprocessableEntity)
			return
		}
		log.Printf("ERROR: Ошибка обработки документа %s: %v", header.Filename, err)
		sendJSONError(w, "Не удалось обработать документ: "+err.Error(), http.StatusBadGateway)
		return
	}

	// Мягкая проверка: все ли запрошенные поля есть в извлеченном JSON
	schemaWarning := ""
	if len(result.GeneratedJSON) > 0 {
		if err := extractor.ValidateGenerated(schemaText, result.GeneratedJSON); err != nil {
			log.Printf("WARNING: Извлеченный JSON не прошел проверку схемы: %v", err)
			schemaWarning = err.Error()
		}
	}

	log.Printf("INFO: Документ %s обработан, layout: %v", header.Filename, result.LayoutColumns())

	sendJSONResponse(w, APIResponse{
		Status: "success",
		Data: ProcessView{
			Filename:           result.Filename,
			Metadata:           result.Metadata,
			StructuredMarkdown: result.StructuredMarkdown,
			GeneratedJSON:      result.GeneratedJSON,
			SuggestedPrompt:    result.SuggestedPrompt,
			PreviewURL:         previewURL,
			SchemaWarning:      schemaWarning,
		},
	})
}

// Пробное применение промпта к текущей разметке документа
func handleTryPrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, "Только POST запросы", http.StatusMethodNotAllowed)
		return
	}

	var req TryPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Не удалось прочитать запрос", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		sendJSONError(w, "Промпт не может быть пустым", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), processTimeout)
	defer cancel()

	result, err := apiClient.TryPrompt(ctx, req.Prompt, req.StructuredMarkdown)
	if err != nil {
		// Ошибки этого пути страница показывает в панели результата, не алертом
		log.Printf("ERROR: Ошибка пробного промпта: %v", err)
		sendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	sendJSONResponse(w, APIResponse{
		Status: "success",
		Data:   map[string]json.RawMessage{"result": result.Result},
	})
}

// Сохранение промпта, привязанного к layout документа
func handleSavePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, "Только POST запросы", http.StatusMethodNotAllowed)
		return
	}

	var req SavePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Не удалось прочитать запрос", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		sendJSONError(w, "Промпт не может быть пустым", http.StatusBadRequest)
		return
	}

	// Без успешной обработки документа layout неизвестен - сохранять не к чему
	if !hasLayout(req.Layout) {
		sendJSONError(w, "Сначала обработайте документ: layout не определен", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), processTimeout)
	defer cancel()

	var layout interface{}
	if err := json.Unmarshal(req.Layout, &layout); err != nil {
		sendJSONError(w, "Некорректный layout", http.StatusBadRequest)
		return
	}

	if _, err := apiClient.SavePrompt(ctx, layout, req.Prompt); err != nil {
		log.Printf("ERROR: Ошибка сохранения промпта: %v", err)
		sendJSONError(w, "Не удалось сохранить промпт: "+err.Error(), http.StatusBadGateway)
		return
	}

	log.Println("INFO: Промпт сохранен")
	sendJSONResponse(w, APIResponse{
		Status:  "success",
		Message: "Промпт сохранен",
	})
}

// Отдача сохраненного предпросмотра документа
func handlePreview(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/preview/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	entry, ok := previews.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, entry.Path)
}

func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"message":   "Docextract UI работает нормально",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	sendJSONResponse(w, APIResponse{
		Status: "success",
		Data:   health,
	})
}

// Проверяем тип файла по расширению
func isValidFileType(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	validExtensions := []string{".pdf", ".doc", ".docx", ".xls", ".xlsx"}

	for _, validExt := range validExtensions {
		if ext == validExt {
			return true
		}
	}
	return false
}

// hasLayout проверяет, что layout вообще передан и не пустой
func hasLayout(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", `""`, "[]", "{}":
		return false
	}
	return true
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func sendJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("ERROR: Ошибка кодирования JSON: %v", err)
	}
}

func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Status:  "error",
		Message: message,
	}

	json.NewEncoder(w).Encode(response)
}
