package main

import "net/http"

func setupRoutes() {
	fs := http.FileServer(http.Dir(staticDir))
	http.Handle("/static/", http.StripPrefix("/static/", fs))

	http.HandleFunc("/", handleHome)
	http.HandleFunc("/api/process-document", handleProcessDocument)
	http.HandleFunc("/api/try-prompt", handleTryPrompt)
	http.HandleFunc("/api/save-prompt", handleSavePrompt)
	http.HandleFunc("/preview/", handlePreview)
	http.HandleFunc("/health", handleHealthCheck)
}
