package extract

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// TransformKind is the closed set of value coercions a context rule may
// request. Unknown kinds are an extraction error, not a fallback.
type TransformKind string

const (
	TransformString   TransformKind = "string"
	TransformJSON     TransformKind = "json"
	TransformList     TransformKind = "list"
	TransformIdentity TransformKind = "identity"
)

// Rule maps one payload path to one context key. Source is a gjson dot
// path; the head segment may be one of the well-known aliases below.
// A nil Default means a missing source omits the key entirely.
type Rule struct {
	Key       string        `json:"key"`
	Source    string        `json:"source"`
	Transform TransformKind `json:"transform"`
	Default   *string       `json:"default,omitempty"`
}

// ContextExtractionError reports a single failed rule. Evaluation keeps
// going; the caller decides whether the partial context is usable.
type ContextExtractionError struct {
	Key    string
	Reason string
}

func (e ContextExtractionError) Error() string {
	return fmt.Sprintf("context rule %q: %s", e.Key, e.Reason)
}

// sourceAliases are the well-known shorthand heads for the payload
// document built by the collector.
var sourceAliases = map[string]string{
	"data":     "messages",
	"text":     "text",
	"metadata": "metadata",
}

// Evaluate derives a flat context map from a JSON payload. Every rule
// sees the original payload only; rules cannot observe each other's
// output. Keys whose source path is missing are omitted, never set to
// an empty or null value.
func Evaluate(payload []byte, rules []Rule) (map[string]string, []ContextExtractionError) {
	context := make(map[string]string, len(rules))
	var errs []ContextExtractionError

	parsed := gjson.ParseBytes(payload)
	for _, rule := range rules {
		key := strings.TrimSpace(rule.Key)
		if key == "" {
			errs = append(errs, ContextExtractionError{Key: rule.Key, Reason: "rule key is empty"})
			continue
		}

		result := parsed.Get(resolveSource(rule.Source))
		if !result.Exists() {
			if rule.Default != nil {
				context[key] = *rule.Default
			}
			continue
		}

		value, err := applyTransform(result, rule.Transform)
		if err != nil {
			errs = append(errs, ContextExtractionError{Key: key, Reason: err.Error()})
			continue
		}
		context[key] = value
	}

	return context, errs
}

func resolveSource(source string) string {
	source = strings.TrimSpace(source)
	head, rest, found := strings.Cut(source, ".")
	mapped, ok := sourceAliases[head]
	if !ok {
		return source
	}
	if !found {
		return mapped
	}
	return mapped + "." + rest
}

func applyTransform(result gjson.Result, kind TransformKind) (string, error) {
	switch kind {
	case TransformString:
		if result.IsObject() || result.IsArray() {
			return "", fmt.Errorf("string transform applied to structured value")
		}
		return result.String(), nil
	case TransformJSON:
		return result.Raw, nil
	case TransformList:
		if result.IsArray() {
			return result.Raw, nil
		}
		return "[" + result.Raw + "]", nil
	case TransformIdentity, "":
		if result.IsObject() || result.IsArray() {
			return result.Raw, nil
		}
		return result.String(), nil
	default:
		return "", fmt.Errorf("unknown transform kind %q", kind)
	}
}
