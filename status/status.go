// Package status classifies backend write status tokens and maps them to
// display messages.
package status

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/iancoleman/strcase"
	"gopkg.in/yaml.v3"
)

// Well-known tokens.
const (
	Idle      = "idle"
	Started   = "started"
	Completed = "completed"
)

// Category is the terminal classification of a status token.
type Category int

const (
	Normal Category = iota
	CategoryCompleted
	CategoryError
)

func (c Category) String() string {
	switch c {
	case CategoryCompleted:
		return "completed"
	case CategoryError:
		return "error"
	default:
		return "normal"
	}
}

// Terminal reports whether the category ends a write session.
func (c Category) Terminal() bool { return c != Normal }

// Classify maps a token to its category. Errors are matched by prefix only;
// the suffix is used for messaging, never for classification.
func Classify(token string) Category {
	switch {
	case token == Completed:
		return CategoryCompleted
	case strings.HasPrefix(token, "error"):
		return CategoryError
	default:
		return Normal
	}
}

//go:embed messages.yaml
var defaultCatalog []byte

// Catalog is the message table. It is loaded from YAML.
type Catalog struct {
	Messages map[string]string `yaml:"messages"`
	Prefixes []PrefixRule      `yaml:"prefixes"`
	Retry    string            `yaml:"retry"`
	Errors   ErrorRules        `yaml:"errors"`
}

// PrefixRule maps every token starting with Prefix to Message.
type PrefixRule struct {
	Prefix  string `yaml:"prefix"`
	Message string `yaml:"message"`
}

// ErrorRules are the fallbacks for error tokens missing from Messages.
type ErrorRules struct {
	WriteProtected string `yaml:"write_protected"`
	Permission     string `yaml:"permission"`
	Generic        string `yaml:"generic"`
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse status catalog: %w", err)
	}
	return c, nil
}

// merge overlays the non-empty fields of o onto c.
func (c Catalog) merge(o Catalog) Catalog {
	out := Catalog{
		Messages: make(map[string]string, len(c.Messages)+len(o.Messages)),
		Prefixes: c.Prefixes,
		Retry:    c.Retry,
		Errors:   c.Errors,
	}
	for k, v := range c.Messages {
		out.Messages[k] = v
	}
	for k, v := range o.Messages {
		out.Messages[k] = v
	}
	if len(o.Prefixes) > 0 {
		out.Prefixes = o.Prefixes
	}
	if o.Retry != "" {
		out.Retry = o.Retry
	}
	if o.Errors.WriteProtected != "" {
		out.Errors.WriteProtected = o.Errors.WriteProtected
	}
	if o.Errors.Permission != "" {
		out.Errors.Permission = o.Errors.Permission
	}
	if o.Errors.Generic != "" {
		out.Errors.Generic = o.Errors.Generic
	}
	return out
}

// Translator maps status tokens to categories and messages. It is immutable
// and safe for concurrent use.
type Translator struct {
	catalog Catalog
}

// New returns a Translator using the built-in English catalog.
func New() *Translator {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return &Translator{catalog: c}
}

// WithCatalog returns a Translator whose catalog is the built-in one
// overlaid with override.
func WithCatalog(override Catalog) *Translator {
	base := New()
	return &Translator{catalog: base.catalog.merge(override)}
}

// Load reads an override catalog from path. An empty path returns the
// built-in translator.
func Load(path string) (*Translator, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read status catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return WithCatalog(c), nil
}

// Translate returns the category and display message for token.
func (t *Translator) Translate(token string) (Category, string) {
	return Classify(token), t.Message(token)
}

// Message returns the display message for token. Unknown non-error tokens
// are returned unchanged.
func (t *Translator) Message(token string) string {
	if strings.HasPrefix(token, "writing ") {
		if strings.Contains(token, "retry") {
			return fmt.Sprintf(t.catalog.Retry, retryDetail(token))
		}
		return token
	}
	if msg, ok := t.catalog.Messages[token]; ok {
		return msg
	}
	for _, rule := range t.catalog.Prefixes {
		if strings.HasPrefix(token, rule.Prefix) {
			return rule.Message
		}
	}
	if strings.HasPrefix(token, "error") {
		return t.errorMessage(token)
	}
	return token
}

func (t *Translator) errorMessage(token string) string {
	switch {
	case strings.Contains(token, "1"):
		return t.catalog.Errors.WriteProtected
	case strings.Contains(token, "permission"):
		return t.catalog.Errors.Permission
	}
	detail := strings.TrimPrefix(strings.TrimPrefix(token, "error_"), "error")
	detail = strings.TrimLeft(detail, ":_ ")
	if detail == "" {
		detail = "unknown"
	}
	return fmt.Sprintf(t.catalog.Errors.Generic, strcase.ToDelimited(detail, ' '))
}

// retryDetail extracts "2/3" from "writing (retry 2/3)".
func retryDetail(token string) string {
	open := strings.IndexByte(token, '(')
	if open < 0 {
		return ""
	}
	inner := strings.TrimSuffix(strings.TrimSpace(token[open+1:]), ")")
	return strings.TrimSpace(strings.TrimPrefix(inner, "retry"))
}
