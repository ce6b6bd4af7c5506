// Package translator provides a best-effort, error-proof data type
// conversion layer between modules whose declared input/output types
// don't match exactly (e.g. a module emitting "string" feeding a module
// expecting "int").
//
// Conversions are rule-driven and never return an error: every Convert
// call yields a usable (value, ok) pair, falling back to the original
// value on any failure. Recent conversions are memoized in a bounded
// LRU cache.
package translator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/logging"
)

// ConversionRule describes one from-type/to-type conversion.
type ConversionRule struct {
	FromType string `yaml:"from_type"`
	ToType   string `yaml:"to_type"`
	Method   string `yaml:"method"` // simple_cast, split_string, string_to_bool
}

// RuleSet is the on-disk (or default, in-memory) shape of the rules file.
type RuleSet struct {
	Conversions map[string]ConversionRule `yaml:"conversions"`
}

// defaultRules are the built-in conversions available even with no
// rules file on disk.
func defaultRules() RuleSet {
	return RuleSet{
		Conversions: map[string]ConversionRule{
			"string_to_int":    {FromType: "string", ToType: "int", Method: "simple_cast"},
			"int_to_string":    {FromType: "int", ToType: "string", Method: "simple_cast"},
			"string_to_float":  {FromType: "string", ToType: "float", Method: "simple_cast"},
			"float_to_string":  {FromType: "float", ToType: "string", Method: "simple_cast"},
			"int_to_float":     {FromType: "int", ToType: "float", Method: "simple_cast"},
			"float_to_int":     {FromType: "float", ToType: "int", Method: "simple_cast"},
			"string_to_bool":   {FromType: "string", ToType: "bool", Method: "string_to_bool"},
			"string_to_list":   {FromType: "string", ToType: "list", Method: "split_string"},
		},
	}
}

type cacheKey struct {
	from, to, preview string
}

// Translator converts values between declared type names according to
// a loaded (or default) rule set, caching recent conversions.
type Translator struct {
	rules RuleSet
	cache *lru.Cache[cacheKey, any]
}

// New loads rules from path (creating it with defaults if missing) and
// constructs a Translator with an LRU cache of the given size. Any error
// loading or creating the file is logged and swallowed; the translator
// always ends up usable with at least the default rules.
func New(path string, maxCacheSize int) *Translator {
	if maxCacheSize <= 0 {
		maxCacheSize = 100
	}
	cache, _ := lru.New[cacheKey, any](maxCacheSize)
	return &Translator{
		rules: loadRules(path),
		cache: cache,
	}
}

func loadRules(path string) RuleSet {
	rules := defaultRules()
	if path == "" {
		return rules
	}
	data, err := os.ReadFile(path)
	if err == nil {
		var loaded RuleSet
		if err := yaml.Unmarshal(data, &loaded); err == nil && len(loaded.Conversions) > 0 {
			return loaded
		}
		logging.Op().Warn("translation rules file present but unreadable, using defaults", "path", path)
		return rules
	}

	logging.Op().Warn("translation rules file not found, using defaults and creating it", "path", path)
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0755)
	}
	if data, err := yaml.Marshal(rules); err == nil {
		if werr := os.WriteFile(path, data, 0644); werr != nil {
			logging.Op().Warn("could not create default translation rules file", "path", path, "error", werr)
		}
	}
	return rules
}

// CanConvert reports whether a rule exists for the given type pair.
func (t *Translator) CanConvert(fromType, toType string) bool {
	if fromType == toType {
		return true
	}
	for _, rule := range t.rules.Conversions {
		if rule.FromType == fromType && rule.ToType == toType {
			return true
		}
	}
	return false
}

func preview(data any) string {
	s, ok := data.(string)
	if !ok {
		s = fmt.Sprintf("%T:%v", data, data)
	}
	if len(s) > 100 {
		return s[:100]
	}
	return s
}

// Convert attempts to convert data from fromType to toType. It never
// panics or returns an error: on any failure it returns the original
// data unchanged and false.
func (t *Translator) Convert(data any, fromType, toType string) (any, bool) {
	if fromType == toType {
		return data, true
	}

	key := cacheKey{from: fromType, to: toType, preview: preview(data)}
	if t.cache != nil {
		if cached, ok := t.cache.Get(key); ok {
			return cached, true
		}
	}

	var method string
	for _, rule := range t.rules.Conversions {
		if rule.FromType == fromType && rule.ToType == toType {
			method = rule.Method
			break
		}
	}
	if method == "" {
		return data, false
	}

	result, ok := t.applyMethod(method, data, toType)
	if !ok {
		return data, false
	}

	if t.cache != nil {
		t.cache.Add(key, result)
	}
	return result, true
}

func (t *Translator) applyMethod(method string, data any, toType string) (result any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Warn("recovered panic during type conversion", "method", method, "panic", r)
			result, ok = data, false
		}
	}()

	switch method {
	case "simple_cast":
		return simpleCast(data, toType)
	case "split_string":
		return splitString(data)
	case "string_to_bool":
		return stringToBool(data)
	default:
		logging.Op().Warn("unknown conversion method", "method", method)
		return data, false
	}
}

func simpleCast(data any, toType string) (any, bool) {
	switch toType {
	case "int":
		switch v := data.(type) {
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return data, false
			}
			return n, true
		case float64:
			return int(v), true
		}
	case "float":
		switch v := data.(type) {
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return data, false
			}
			return f, true
		case int:
			return float64(v), true
		}
	case "string":
		return fmt.Sprintf("%v", data), true
	}
	return data, false
}

func splitString(data any) (any, bool) {
	s, ok := data.(string)
	if !ok {
		return data, false
	}
	if s == "" {
		return []string{}, true
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, true
}

func stringToBool(data any) (any, bool) {
	s, ok := data.(string)
	if !ok {
		return data, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return data, false
	}
}

// RuntimeTypeName maps a Go value's dynamic type onto the bus's declared
// type vocabulary ("string", "int", "float", "bool", "list", "map", "Any").
func RuntimeTypeName(data any) string {
	switch data.(type) {
	case string:
		return "string"
	case int, int32, int64:
		return "int"
	case float32, float64:
		return "float"
	case bool:
		return "bool"
	case []string, []any:
		return "list"
	case map[string]any:
		return "map"
	case nil:
		return "Any"
	default:
		return "Any"
	}
}

// TranslateEnvelope rewrites env's Data/DataType in place if a conversion
// from env.DataType to expectedType succeeds; otherwise it returns env
// unchanged. Always returns a usable envelope either way.
func (t *Translator) TranslateEnvelope(env domain.Envelope, expectedType string) (domain.Envelope, bool) {
	if env.DataType == "" || expectedType == "" || env.DataType == expectedType {
		return env, false
	}
	converted, ok := t.Convert(env.Data, env.DataType, expectedType)
	if !ok {
		return env, false
	}
	env.Data = converted
	env.DataType = expectedType
	return env, true
}
