// Package template manages the auto-reply templates: a catalog of message
// bodies with variable injection, platform length validation and an active
// template that can only be switched to another valid one.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// MaxLengthChars is the platform message limit.
const MaxLengthChars = 4096

// ErrTemplateInvalid means a template failed validation: a required
// variable is missing from the render set, an unresolved placeholder
// remains, or the rendered message exceeds the platform limit.
var ErrTemplateInvalid = errors.New("template invalid")

// ErrTemplateNotFound means no template with the given ID is registered.
var ErrTemplateNotFound = errors.New("template not found")

// Template is one immutable auto-reply message body. Placeholders use the
// form {name} and are replaced at render time.
type Template struct {
	// ID is the template identifier (e.g. "default", "plain").
	ID string

	// Body is the message text with {variable} placeholders.
	Body string

	// RequiredVariables must all be present in the render variable set.
	RequiredVariables []string

	// MaxLengthChars caps the rendered length. Zero means the platform
	// default.
	MaxLengthChars int
}

// Render substitutes variables into the template body and validates the
// result. The output preserves the body's line breaks and symbols exactly;
// only placeholders change.
func (t *Template) Render(vars map[string]string) (string, error) {
	for _, name := range t.RequiredVariables {
		if vars[name] == "" {
			return "", fmt.Errorf("%w: missing required variable %q", ErrTemplateInvalid, name)
		}
	}

	out := t.Body
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}

	if leftover := findPlaceholder(out); leftover != "" {
		return "", fmt.Errorf("%w: unresolved placeholder %q", ErrTemplateInvalid, leftover)
	}

	limit := t.MaxLengthChars
	if limit <= 0 {
		limit = MaxLengthChars
	}
	if n := utf8.RuneCountInString(out); n > limit {
		return "", fmt.Errorf("%w: rendered length %d exceeds limit %d", ErrTemplateInvalid, n, limit)
	}
	return out, nil
}

// findPlaceholder returns the first {name} placeholder left in s, or "".
// Only simple identifiers count; literal braces in message text (e.g.
// emoticons) are not placeholders.
func findPlaceholder(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		end := strings.IndexByte(s[i:], '}')
		if end <= 1 {
			continue
		}
		name := s[i+1 : i+end]
		if isIdentifier(name) {
			return "{" + name + "}"
		}
	}
	return ""
}

func isIdentifier(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return s != ""
}

// Status describes the active template for the status surface.
type Status struct {
	ActiveTemplateID string `json:"active_template_id"`
	LengthChars      int    `json:"length_chars"`
	Valid            bool   `json:"valid"`
}

// Registry holds the template catalog and tracks the active template.
// Switching to a template that fails validation keeps the previous one.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	active    string
	vars      map[string]string
}

// NewRegistry creates a registry pre-loaded with the built-in catalog and
// the given render variable set.
func NewRegistry(vars map[string]string) *Registry {
	r := &Registry{
		templates: make(map[string]*Template),
		vars:      vars,
	}
	for _, t := range builtinTemplates() {
		r.templates[t.ID] = t
	}
	r.active = "default"
	return r
}

// Register adds or replaces a template in the catalog. The active template
// is never replaced implicitly.
func (r *Registry) Register(t *Template) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("%w: template needs an ID", ErrTemplateInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// Activate switches the active template. The candidate is validated by a
// trial render against the configured variables; on failure the previous
// active template stays in place and the error is returned.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.templates[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}
	if _, err := t.Render(r.vars); err != nil {
		return fmt.Errorf("activating %q: %w", id, err)
	}
	r.active = id
	return nil
}

// Active returns the currently active template.
func (r *Registry) Active() *Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[r.active]
}

// RenderActive renders the active template with the configured variables.
func (r *Registry) RenderActive() (string, error) {
	r.mu.RLock()
	t := r.templates[r.active]
	vars := r.vars
	r.mu.RUnlock()
	if t == nil {
		return "", ErrTemplateNotFound
	}
	return t.Render(vars)
}

// Variables returns the configured render variable set.
func (r *Registry) Variables() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vars
}

// IDs lists the registered template IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status reports the active template's rendered length and validity.
func (r *Registry) Status() Status {
	r.mu.RLock()
	t := r.templates[r.active]
	vars := r.vars
	active := r.active
	r.mu.RUnlock()

	st := Status{ActiveTemplateID: active}
	if t == nil {
		return st
	}
	rendered, err := t.Render(vars)
	st.Valid = err == nil
	st.LengthChars = utf8.RuneCountInString(rendered)
	return st
}
