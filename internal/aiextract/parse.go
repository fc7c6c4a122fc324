package aiextract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/esg-extract/internal/model"
)

// ParseResult is either ParsedOK or ParseFailed.
type ParseResult interface {
	parseResult()
}

// ParsedOK carries a fully shaped, validated result.
type ParsedOK struct {
	Result *model.ESGExtractionResult
}

// ParseFailed carries the reason a reply could not be trusted.
type ParseFailed struct {
	Reason string
}

func (ParsedOK) parseResult()    {}
func (ParseFailed) parseResult() {}

// CleanJSON strips markdown fences and any commentary around the outermost
// JSON object.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// ParseReply turns a raw model reply into a result. Numeric strings such as
// "1,234.5" or "45%" are coerced to numbers and units are reset to their
// canonical strings. A missing group or leaf, or a value that is neither a
// number nor null, fails the parse.
func ParseReply(raw string) ParseResult {
	cleaned := CleanJSON(raw)
	if cleaned == "" {
		return ParseFailed{Reason: "empty reply"}
	}

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return ParseFailed{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return ParseFailed{Reason: "reply is not a JSON object"}
	}

	out := model.NewESGExtractionResult()
	for _, key := range model.MetricKeys {
		leaf, err := lookupLeaf(root, key)
		if err != nil {
			return ParseFailed{Reason: err.Error()}
		}
		v, err := coerceValue(leaf["value"])
		if err != nil {
			return ParseFailed{Reason: fmt.Sprintf("%s: %v", key, err)}
		}
		leaf["value"] = v
		leaf["unit"] = model.CanonicalUnit(key)
		if f, ok := v.(float64); ok {
			out.Set(key, f)
		}
	}

	schema, err := resultSchema()
	if err != nil {
		return ParseFailed{Reason: fmt.Sprintf("schema: %v", err)}
	}
	if err := schema.Validate(root); err != nil {
		return ParseFailed{Reason: fmt.Sprintf("schema validation: %v", err)}
	}

	return ParsedOK{Result: out}
}

func lookupLeaf(root map[string]any, key model.MetricKey) (map[string]any, error) {
	node := root
	for _, part := range strings.Split(string(key), ".") {
		next, ok := node[part].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("missing object %q in %s", part, key)
		}
		node = next
	}
	return node, nil
}

// coerceValue returns nil or a finite float64.
func coerceValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("non-finite value")
		}
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			return nil, nil
		}
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("value %q is not numeric", x)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("value of type %T is not numeric", v)
	}
}

var resultSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(buildSchema())
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("esg_result.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("esg_result.json")
})

// buildSchema derives the JSON Schema from the metric key paths. Extra keys
// are allowed; every known group and leaf is required.
func buildSchema() map[string]any {
	root := objectSchema()
	for _, key := range model.MetricKeys {
		node := root
		parts := strings.Split(string(key), ".")
		for i, part := range parts {
			props := node["properties"].(map[string]any)
			node["required"] = appendUnique(node["required"].([]string), part)
			if i == len(parts)-1 {
				props[part] = map[string]any{
					"type":     "object",
					"required": []string{"value", "unit"},
					"properties": map[string]any{
						"value": map[string]any{"type": []string{"number", "null"}},
						"unit":  map[string]any{"const": model.CanonicalUnit(key)},
					},
				}
				break
			}
			child, ok := props[part].(map[string]any)
			if !ok {
				child = objectSchema()
				props[part] = child
			}
			node = child
		}
	}
	root["$schema"] = "http://json-schema.org/draft-07/schema#"
	return root
}

func objectSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
