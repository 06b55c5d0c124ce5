package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParseSchemaTemplate разбирает пользовательскую схему извлечения.
// Схема должна быть валидным JSON объектом, ключи которого называют поля,
// которые нужно извлечь из документа.
func ParseSchemaTemplate(schemaText string) (map[string]interface{}, error) {
	var template map[string]interface{}
	if err := json.Unmarshal([]byte(schemaText), &template); err != nil {
		return nil, fmt.Errorf("схема должна быть JSON объектом: %w", err)
	}
	if len(template) == 0 {
		return nil, fmt.Errorf("схема не содержит ни одного поля")
	}
	return template, nil
}

// TemplateFields возвращает отсортированный список полей схемы
func TemplateFields(template map[string]interface{}) []string {
	fields := make([]string, 0, len(template))
	for field := range template {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// buildValidationSchema строит минимальную JSON-Schema по полям шаблона:
// извлеченный JSON должен быть объектом со всеми запрошенными полями
func buildValidationSchema(fields []string) map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": fields,
	}
}

// ValidateGenerated проверяет, что извлеченный сервисом JSON содержит все
// поля из пользовательской схемы. Несовпадение не считается отказом
// обработки - вызывающая сторона решает, как его показать.
func ValidateGenerated(schemaText string, generated json.RawMessage) error {
	template, err := ParseSchemaTemplate(schemaText)
	if err != nil {
		return err
	}

	schemaMap := buildValidationSchema(TemplateFields(template))
	schemaBytes, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("ошибка сериализации схемы: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("не удалось добавить схему: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("не удалось скомпилировать схему: %w", err)
	}

	var value interface{}
	if err := json.Unmarshal(generated, &value); err != nil {
		return fmt.Errorf("извлеченный JSON не парсится: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("извлеченный JSON не соответствует схеме: %w", err)
	}

	return nil
}
