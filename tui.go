package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docextract/pkg/extractor"
)

// backendClient - то, что терминальному клиенту нужно от сервиса извлечения.
// В тестах подменяется моком.
type backendClient interface {
	ProcessDocument(ctx context.Context, file io.Reader, fileName, schemaJSON string) (*extractor.ProcessResult, error)
	TryPrompt(ctx context.Context, prompt, structuredMarkdown string) (*extractor.TryResult, error)
	SavePrompt(ctx context.Context, layout interface{}, prompt string) (*extractor.SaveResult, error)
}

// Зоны фокуса терминального клиента
type tuiFocus int

const (
	focusSchema tuiFocus = iota
	focusPrompt
	focusResult
)

// Стили терминального клиента
type tuiStyles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Section lipgloss.Style
}

func newTUIStyles() tuiStyles {
	return tuiStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		Value:   lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
	}
}

// Сообщения асинхронных операций
type processDoneMsg struct {
	result *extractor.ProcessResult
	err    error
}

type tryDoneMsg struct {
	result *extractor.TryResult
	err    error
}

type saveDoneMsg struct {
	result *extractor.SaveResult
	err    error
}

// tuiModel - терминальный аналог страницы: один файл, одна схема и четыре
// поля результата, которые заменяются атомарно при успешной обработке
type tuiModel struct {
	client backendClient
	styles tuiStyles

	// Компоненты
	picker     filepicker.Model
	schemaArea textarea.Model
	promptIn   textinput.Model
	resultView viewport.Model
	spin       spinner.Model

	// Состояние вида
	picking   bool
	focus     tuiFocus
	statusMsg string
	width     int
	height    int

	// Выбранный файл
	filePath string

	// Результаты сервиса, заменяются только все вместе
	metadata           map[string]interface{}
	structuredMarkdown string
	generatedJSON      json.RawMessage
	suggestedPrompt    string
	schemaWarning      string

	// Панель промпта
	promptResult string

	// Флаги выполняющихся вызовов
	processing bool
	trying     bool
	saving     bool
}

func newTUIModel(client backendClient) tuiModel {
	ta := textarea.New()
	ta.Placeholder = `{"order_id": "", "total": ""}`
	ta.SetWidth(76)
	ta.SetHeight(5)
	ta.ShowLineNumbers = false
	ta.Focus()

	ti := textinput.New()
	ti.Placeholder = "Промпт для панели попробовать/сохранить"
	ti.CharLimit = 0

	fp := filepicker.New()
	fp.AllowedTypes = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx"}
	if cwd, err := os.Getwd(); err == nil {
		fp.CurrentDirectory = cwd
	}

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Millisecond * 100,
	}

	vp := viewport.New(76, 14)
	vp.SetContent("Обработайте документ, чтобы увидеть результаты")

	return tuiModel{
		client:     client,
		styles:     newTUIStyles(),
		picker:     fp,
		schemaArea: ta,
		promptIn:   ti,
		resultView: vp,
		spin:       sp,
		focus:      focusSchema,
		width:      100,
		height:     30,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		contentWidth := msg.Width - 4
		if contentWidth < 40 {
			contentWidth = 40
		}
		m.schemaArea.SetWidth(contentWidth)
		m.promptIn.Width = contentWidth - 10
		m.resultView.Width = contentWidth
		viewHeight := msg.Height - 16
		if viewHeight < 6 {
			viewHeight = 6
		}
		m.resultView.Height = viewHeight
		return m, nil

	case tea.KeyMsg:
		// Выбор файла перехватывает весь ввод
		if m.picking {
			return m.updatePicker(msg)
		}

		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "ctrl+o":
			m.picking = true
			m.schemaArea.Blur()
			m.promptIn.Blur()
			return m, m.picker.Init()

		case "tab":
			return m.cycleFocus(), nil

		case "ctrl+p":
			return m.startProcess()

		case "ctrl+s":
			return m.startSave()

		case "enter":
			if m.focus == focusPrompt {
				return m.startTry()
			}
		}

		switch m.focus {
		case focusSchema:
			var cmd tea.Cmd
			m.schemaArea, cmd = m.schemaArea.Update(msg)
			cmds = append(cmds, cmd)
		case focusPrompt:
			var cmd tea.Cmd
			m.promptIn, cmd = m.promptIn.Update(msg)
			cmds = append(cmds, cmd)
		case focusResult:
			var cmd tea.Cmd
			m.resultView, cmd = m.resultView.Update(msg)
			cmds = append(cmds, cmd)
		}

	case spinner.TickMsg:
		if m.callPending() {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}

	case processDoneMsg:
		return m.finishProcess(msg)

	case tryDoneMsg:
		return m.finishTry(msg)

	case saveDoneMsg:
		return m.finishSave(msg)

	default:
		if m.picking {
			var cmd tea.Cmd
			m.picker, cmd = m.picker.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// updatePicker обрабатывает ввод во время выбора файла
func (m tuiModel) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		m.picking = false
		m.schemaArea.Focus()
		m.focus = focusSchema
		return m, nil
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)

	if didSelect, path := m.picker.DidSelectFile(msg); didSelect {
		// Новый файл просто замещает предыдущий
		m.filePath = path
		m.picking = false
		m.schemaArea.Focus()
		m.focus = focusSchema
		m.statusMsg = "Выбран файл: " + filepath.Base(path)
		return m, nil
	}

	if didSelect, path := m.picker.DidSelectDisabledFile(msg); didSelect {
		m.statusMsg = "Формат не поддерживается: " + filepath.Base(path)
		return m, cmd
	}

	return m, cmd
}

func (m tuiModel) cycleFocus() tuiModel {
	m.schemaArea.Blur()
	m.promptIn.Blur()

	switch m.focus {
	case focusSchema:
		m.focus = focusPrompt
		m.promptIn.Focus()
	case focusPrompt:
		m.focus = focusResult
	default:
		m.focus = focusSchema
		m.schemaArea.Focus()
	}
	return m
}

func (m tuiModel) callPending() bool {
	return m.processing || m.trying || m.saving
}

// validateProcess проверяет предусловия обработки документа
func (m *tuiModel) validateProcess() error {
	if m.filePath == "" {
		return fmt.Errorf("сначала выберите файл (ctrl+o)")
	}

	schemaText := strings.TrimSpace(m.schemaArea.Value())
	if schemaText == "" {
		return fmt.Errorf("схема извлечения обязательна")
	}

	if _, err := extractor.ParseSchemaTemplate(schemaText); err != nil {
		return err
	}

	return nil
}

// validateTry проверяет предусловия пробного промпта
func (m *tuiModel) validateTry() error {
	if strings.TrimSpace(m.promptIn.Value()) == "" {
		return fmt.Errorf("промпт не может быть пустым")
	}
	return nil
}

// validateSave проверяет предусловия сохранения промпта
func (m *tuiModel) validateSave() error {
	if strings.TrimSpace(m.promptIn.Value()) == "" {
		return fmt.Errorf("промпт не может быть пустым")
	}
	if !hasLayoutValue(m.metadata) {
		return fmt.Errorf("сначала обработайте документ: layout не определен")
	}
	return nil
}

func (m tuiModel) startProcess() (tea.Model, tea.Cmd) {
	// Повторная отправка до завершения запрещена
	if m.processing {
		m.statusMsg = "Документ уже обрабатывается, дождитесь завершения"
		return m, nil
	}

	if err := m.validateProcess(); err != nil {
		m.statusMsg = err.Error()
		return m, nil
	}

	m.processing = true
	m.statusMsg = "Обрабатываем документ..."

	client := m.client
	path := m.filePath
	schemaText := strings.TrimSpace(m.schemaArea.Value())

	cmd := func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return processDoneMsg{err: fmt.Errorf("не удалось открыть файл: %w", err)}
		}
		defer f.Close()

		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()

		result, err := client.ProcessDocument(ctx, f, filepath.Base(path), schemaText)
		return processDoneMsg{result: result, err: err}
	}

	return m, tea.Batch(cmd, m.spin.Tick)
}

func (m tuiModel) finishProcess(msg processDoneMsg) (tea.Model, tea.Cmd) {
	m.processing = false

	// При ошибке прежние результаты остаются на месте
	if msg.err != nil {
		m.statusMsg = "Ошибка обработки: " + msg.err.Error()
		return m, nil
	}

	// Все четыре поля результата заменяются вместе
	m.metadata = msg.result.Metadata
	m.structuredMarkdown = msg.result.StructuredMarkdown
	m.generatedJSON = msg.result.GeneratedJSON
	m.suggestedPrompt = msg.result.SuggestedPrompt
	m.promptResult = ""

	m.schemaWarning = ""
	if len(m.generatedJSON) > 0 {
		schemaText := strings.TrimSpace(m.schemaArea.Value())
		if err := extractor.ValidateGenerated(schemaText, m.generatedJSON); err != nil {
			m.schemaWarning = err.Error()
		}
	}

	// Предложенный промпт подставляем, если пользователь еще ничего не ввел
	if m.suggestedPrompt != "" && strings.TrimSpace(m.promptIn.Value()) == "" {
		m.promptIn.SetValue(m.suggestedPrompt)
	}

	m.statusMsg = "Документ обработан"
	m.resultView.SetContent(m.buildResultContent())
	m.resultView.GotoTop()
	return m, nil
}

func (m tuiModel) startTry() (tea.Model, tea.Cmd) {
	if m.trying {
		m.statusMsg = "Промпт уже выполняется"
		return m, nil
	}

	if err := m.validateTry(); err != nil {
		m.statusMsg = err.Error()
		return m, nil
	}

	m.trying = true
	m.statusMsg = "Пробуем промпт..."

	client := m.client
	prompt := m.promptIn.Value()
	markdown := m.structuredMarkdown

	cmd := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()

		result, err := client.TryPrompt(ctx, prompt, markdown)
		return tryDoneMsg{result: result, err: err}
	}

	return m, tea.Batch(cmd, m.spin.Tick)
}

func (m tuiModel) finishTry(msg tryDoneMsg) (tea.Model, tea.Cmd) {
	m.trying = false

	// Ошибки пробного промпта показываются в панели результата, не в статусе
	if msg.err != nil {
		errObj, _ := json.Marshal(map[string]string{"error": msg.err.Error()})
		m.promptResult = renderJSON(errObj)
		m.statusMsg = ""
	} else {
		m.promptResult = renderJSON(msg.result.Result)
		m.statusMsg = "Промпт выполнен"
	}

	m.resultView.SetContent(m.buildResultContent())
	m.resultView.GotoBottom()
	return m, nil
}

func (m tuiModel) startSave() (tea.Model, tea.Cmd) {
	if m.saving {
		m.statusMsg = "Сохранение уже выполняется"
		return m, nil
	}

	if err := m.validateSave(); err != nil {
		m.statusMsg = err.Error()
		return m, nil
	}

	m.saving = true
	m.statusMsg = "Сохраняем промпт..."

	client := m.client
	prompt := m.promptIn.Value()
	layout := m.metadata["layout"]

	cmd := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()

		result, err := client.SavePrompt(ctx, layout, prompt)
		return saveDoneMsg{result: result, err: err}
	}

	return m, tea.Batch(cmd, m.spin.Tick)
}

func (m tuiModel) finishSave(msg saveDoneMsg) (tea.Model, tea.Cmd) {
	m.saving = false

	if msg.err != nil {
		m.statusMsg = "Не удалось сохранить промпт: " + msg.err.Error()
		return m, nil
	}

	m.statusMsg = "Промпт сохранен"
	return m, nil
}

// buildResultContent собирает содержимое панели результатов
func (m *tuiModel) buildResultContent() string {
	var b strings.Builder

	if len(m.metadata) > 0 {
		b.WriteString(m.styles.Section.Render("МЕТАДАННЫЕ"))
		b.WriteString("\n")
		keys := make([]string, 0, len(m.metadata))
		for k := range m.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(m.styles.Label.Render(k) + ": " + fmt.Sprintf("%v", m.metadata[k]) + "\n")
		}
		b.WriteString("\n")
	}

	if m.structuredMarkdown != "" {
		b.WriteString(m.styles.Section.Render("РАЗМЕТКА ДОКУМЕНТА"))
		b.WriteString("\n" + m.structuredMarkdown + "\n\n")
	}

	if len(m.generatedJSON) > 0 {
		b.WriteString(m.styles.Section.Render("ИЗВЛЕЧЕННЫЙ JSON"))
		b.WriteString("\n" + renderJSON(m.generatedJSON) + "\n")
		if m.schemaWarning != "" {
			b.WriteString(m.styles.Error.Render("Внимание: "+m.schemaWarning) + "\n")
		}
		b.WriteString("\n")
	}

	if m.promptResult != "" {
		b.WriteString(m.styles.Section.Render("РЕЗУЛЬТАТ ПРОМПТА"))
		b.WriteString("\n" + m.promptResult + "\n")
	}

	if b.Len() == 0 {
		return "Обработайте документ, чтобы увидеть результаты"
	}

	return b.String()
}

func (m tuiModel) View() string {
	if m.picking {
		return m.styles.Title.Render("Выберите документ (esc - отмена)") + "\n\n" + m.picker.View()
	}

	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Docextract UI - терминальный клиент") + "\n\n")

	fileLabel := "не выбран"
	if m.filePath != "" {
		fileLabel = truncateString(filepath.Base(m.filePath), 60)
	}
	b.WriteString(m.styles.Label.Render("Файл: ") + m.styles.Value.Render(fileLabel) +
		m.styles.Dim.Render("  (ctrl+o - выбрать)") + "\n\n")

	b.WriteString(m.styles.Label.Render("Схема извлечения:") + "\n")
	b.WriteString(m.schemaArea.View() + "\n\n")

	b.WriteString(m.resultView.View() + "\n\n")

	b.WriteString(m.styles.Label.Render("Промпт: ") + m.promptIn.View() + "\n")

	if m.callPending() {
		b.WriteString(m.spin.View() + " " + m.statusMsg + "\n")
	} else if m.statusMsg != "" {
		style := m.styles.Success
		if looksLikeError(m.statusMsg) {
			style = m.styles.Error
		}
		b.WriteString(style.Render(m.statusMsg) + "\n")
	}

	b.WriteString(m.styles.Dim.Render("tab - фокус | ctrl+p - обработать | enter - попробовать промпт | ctrl+s - сохранить промпт | ctrl+c - выход"))

	return b.String()
}

// looksLikeError грубо отличает сообщения об ошибках для подсветки статуса
func looksLikeError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "ошибка") ||
		strings.Contains(lower, "не удалось") ||
		strings.Contains(lower, "не может") ||
		strings.Contains(lower, "обязательна") ||
		strings.Contains(lower, "сначала") ||
		strings.Contains(lower, "не поддерживается")
}

// hasLayoutValue проверяет, что метаданные содержат непустой layout
func hasLayoutValue(metadata map[string]interface{}) bool {
	if metadata == nil {
		return false
	}
	layout, ok := metadata["layout"]
	if !ok || layout == nil {
		return false
	}
	switch v := layout.(type) {
	case string:
		return v != ""
	case []interface{}:
		return len(v) > 0
	}
	return true
}

// renderJSON форматирует JSON с отступом в два пробела, как на странице
func renderJSON(raw json.RawMessage) string {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return string(raw)
	}

	return strings.TrimRight(buf.String(), "\n")
}

// runTUI запускает терминальный клиент
func runTUI(client backendClient) error {
	program := tea.NewProgram(newTUIModel(client), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
