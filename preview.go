package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// previewEntry описывает один временный файл предпросмотра
type previewEntry struct {
	ID       string
	FileName string
	Path     string
}

// previewStore хранит ограниченное число файлов предпросмотра.
// Вытесненные и замененные файлы удаляются с диска сразу, остатки - при
// остановке сервера. Раньше предпросмотры накапливались без освобождения.
type previewStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *previewEntry]
	dir   string
}

// newPreviewStore создает хранилище предпросмотров во временной директории
func newPreviewStore(capacity int) (*previewStore, error) {
	dir, err := os.MkdirTemp("", "docextract-preview-*")
	if err != nil {
		return nil, fmt.Errorf("не удалось создать директорию предпросмотров: %w", err)
	}

	cache, err := lru.NewWithEvict[string, *previewEntry](capacity, func(id string, entry *previewEntry) {
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			log.Printf("WARNING: Не удалось удалить предпросмотр %s: %v", id, err)
			return
		}
		log.Printf("INFO: Предпросмотр %s (%s) освобожден", id, entry.FileName)
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("не удалось создать кэш предпросмотров: %w", err)
	}

	return &previewStore{cache: cache, dir: dir}, nil
}

// Put сохраняет содержимое файла и возвращает идентификатор предпросмотра.
// При переполнении хранилища самый старый предпросмотр освобождается.
func (s *previewStore) Put(fileName string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+filepath.Ext(fileName))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("не удалось создать файл предпросмотра: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("не удалось записать файл предпросмотра: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("ошибка закрытия файла предпросмотра: %w", err)
	}

	s.cache.Add(id, &previewEntry{ID: id, FileName: fileName, Path: path})
	return id, nil
}

// Get возвращает предпросмотр по идентификатору
func (s *previewStore) Get(id string) (*previewEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(id)
}

// Len возвращает число активных предпросмотров
func (s *previewStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// ReleaseAll освобождает все предпросмотры и удаляет директорию
func (s *previewStore) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Purge()
	if err := os.RemoveAll(s.dir); err != nil {
		log.Printf("WARNING: Не удалось удалить директорию предпросмотров: %v", err)
	}
}
