package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// contentListSchema describes the block list MinerU writes next to the markdown.
const contentListSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type", "page_idx"],
    "properties": {
      "type":     {"type": "string", "minLength": 1},
      "page_idx": {"type": "integer", "minimum": 0},
      "text":     {"type": "string"},
      "img_path": {"type": "string"},
      "text_level": {"type": "integer"}
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledContentListSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("content_list.json", strings.NewReader(contentListSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("content_list.json")
	})
	return schema, schemaErr
}

// ValidateContentList checks that path holds a well-formed content list.
func ValidateContentList(path string) error {
	s, err := compiledContentListSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read content list: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal content list: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("content list does not match schema: %w", err)
	}
	return nil
}
