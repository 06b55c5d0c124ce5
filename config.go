package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Конфигурация приложения - читается из переменных окружения
var (
	extractorAPIURL string
	serverPort      string
	maxFileSize     int64
	maxPreviews     int
	processTimeout  time.Duration
	staticDir       string
)

// Инициализация переменных окружения
func initEnvVariables() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARNING: Не удалось загрузить переменные окружения из .env файла: %v", err)
		log.Println("INFO: Используются значения по умолчанию.")
	}

	extractorAPIURL = os.Getenv("EXTRACTOR_API_URL")
	if extractorAPIURL == "" {
		extractorAPIURL = "http://localhost:8000"
		log.Printf("INFO: EXTRACTOR_API_URL не установлен, используется дефолт: %s", extractorAPIURL)
	}

	serverPort = os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
		log.Printf("INFO: SERVER_PORT не установлен, используется дефолт: %s", serverPort)
	}

	maxFileSizeStr := os.Getenv("MAX_FILE_SIZE_MB")
	if maxFileSizeStr == "" {
		maxFileSize = 50 << 20 // 50MB по умолчанию
		log.Printf("INFO: MAX_FILE_SIZE_MB не установлен, используется дефолт: %d MB", maxFileSize>>20)
	} else {
		maxFileSizeMB, err := strconv.ParseInt(maxFileSizeStr, 10, 64)
		if err != nil {
			log.Fatalf("ERROR: Неверный формат MAX_FILE_SIZE_MB: %v", err)
		}
		maxFileSize = maxFileSizeMB << 20
		log.Printf("INFO: MAX_FILE_SIZE_MB установлен: %d MB", maxFileSizeMB)
	}

	maxPreviewsStr := os.Getenv("MAX_PREVIEWS")
	if maxPreviewsStr == "" {
		maxPreviews = 4
		log.Printf("INFO: MAX_PREVIEWS не установлен, используется дефолт: %d", maxPreviews)
	} else {
		var err error
		maxPreviews, err = strconv.Atoi(maxPreviewsStr)
		if err != nil || maxPreviews < 1 {
			log.Fatalf("ERROR: Неверный формат MAX_PREVIEWS: %v", err)
		}
		log.Printf("INFO: MAX_PREVIEWS установлен: %d", maxPreviews)
	}

	// Обработка документа на стороне сервиса занимает десятки секунд (LLM),
	// поэтому таймаут заметно больше обычного
	processTimeoutStr := os.Getenv("PROCESS_TIMEOUT_SEC")
	if processTimeoutStr == "" {
		processTimeout = 180 * time.Second
		log.Printf("INFO: PROCESS_TIMEOUT_SEC не установлен, используется дефолт: %v", processTimeout)
	} else {
		seconds, err := strconv.Atoi(processTimeoutStr)
		if err != nil || seconds < 1 {
			log.Fatalf("ERROR: Неверный формат PROCESS_TIMEOUT_SEC: %v", err)
		}
		processTimeout = time.Duration(seconds) * time.Second
		log.Printf("INFO: PROCESS_TIMEOUT_SEC установлен: %v", processTimeout)
	}

	staticDir = os.Getenv("STATIC_DIR")
	if staticDir == "" {
		staticDir = "static"
		log.Printf("INFO: STATIC_DIR не установлен, используется дефолт: %s", staticDir)
	}
}
