package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docextract/pkg/extractor"
)

func main() {
	tuiMode := flag.Bool("tui", false, "запустить терминальный клиент вместо веб-интерфейса")
	flag.Parse()

	// Инициализируем переменные окружения
	initEnvVariables()

	apiClient = extractor.NewClient(extractor.Config{
		BaseURL: extractorAPIURL,
		Timeout: int(processTimeout.Seconds()),
	})

	if *tuiMode {
		if err := runTUI(apiClient); err != nil {
			log.Fatalf("ERROR: Терминальный клиент завершился с ошибкой: %v", err)
		}
		return
	}

	var err error
	previews, err = newPreviewStore(maxPreviews)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	setupRoutes()
	startServer()
}

// Запускаем веб-сервер и ждем сигнала остановки.
// Остановка освобождает все предпросмотры.
func startServer() {
	server := &http.Server{Addr: ":" + serverPort}

	go func() {
		log.Printf("INFO: Docextract UI запускается на порту %s", serverPort)
		log.Printf("INFO: Откройте http://localhost:%s в браузере", serverPort)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ERROR: Не удалось запустить сервер: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("INFO: Останавливаем сервер")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("WARNING: Ошибка остановки сервера: %v", err)
	}

	previews.ReleaseAll()
	log.Println("INFO: Docextract UI остановлен")
}
