package env

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

type Str string

func (s Str) String() string { return string(s) }

func FromStringMap(m map[string]string) Map {
	if m == nil {
		return nil
	}
	out := Map{}
	for k, v := range m {
		out[k] = Str(v)
	}
	return out
}

type Val interface {
	String() string
}

// Map is a generic value map where each value can be a plain string (fmt.Stringer)
// or a lazy/computed value implementing String().
// For convenience, plain strings are stored using the Str type below.
type Map map[string]Val

// New returns a pointer to Env with all internal maps initialized.
// Using this helps avoid nil map checks when populating Auth/Global/Local.
func New() *Env {
	return &Env{Auth: Map{}, Global: Map{}, Local: Map{}}
}

// Seal marks the Env as immutable for Set operations.
func (e *Env) Seal() {
	if e != nil {
		e.mu.Lock()
		e.sealed = true
		e.mu.Unlock()
	}
}

// Unseal re-allows Set operations (testing/initialization only).
func (e *Env) Unseal() {
	if e != nil {
		e.mu.Lock()
		e.sealed = false
		e.mu.Unlock()
	}
}

// Clone performs a deep copy of the Env maps. Lazy values (Stringer) are copied by reference.
func (e *Env) Clone() *Env {
	if e == nil {
		return New()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := &Env{Auth: Map{}, Global: Map{}, Local: Map{}}
	for k, v := range e.Auth {
		out.Auth[k] = v
	}
	for k, v := range e.Global {
		out.Global[k] = v
	}
	for k, v := range e.Local {
		out.Local[k] = v
	}
	return out
}

// GetString reads a value from the chosen map ("auth","global","local").
func (e *Env) GetString(mapName, key string) string {
	if e == nil {
		return ""
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var m Map
	switch normalizeMapName(mapName) {
	case "auth":
		m = e.Auth
	case "local":
		m = e.Local
	default:
		m = e.Global
	}
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok && v != nil {
		return v.String()
	}
	return ""
}

// SetString sets a string into the chosen map. Returns error if sealed.
func (e *Env) SetString(mapName, key, val string) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed {
		return fmt.Errorf("env: sealed (immutable)")
	}
	var m *Map
	switch normalizeMapName(mapName) {
	case "auth":
		m = &e.Auth
	case "local":
		m = &e.Local
	default:
		m = &e.Global
	}
	if *m == nil {
		*m = Map{}
	}
	(*m)[key] = Str(val)
	return nil
}

func normalizeMapName(n string) string {
	switch strings.ToLower(strings.TrimSpace(n)) {
	case "auth":
		return "auth"
	case "local":
		return "local"
	default:
		return "global"
	}
}

// Env supports layered variables:
// - Auth: values acquired by probe auth providers (apply to the whole run)
// - Global: variables from config (apply to the whole run)
// - Local: variables from each stage (reset per stage)
// Lookup and rendering give precedence to Local over Global.
// Note: zero values (nil maps) are handled gracefully.
type Env struct {
	mu     sync.RWMutex
	Auth   Map `yaml:"-" json:"-" mapstructure:"-"`
	Global Map `yaml:"-" json:"-" mapstructure:"-"`
	Local  Map `yaml:"-" json:"env" mapstructure:"env"`
	sealed bool
}

// UnmarshalYAML allows decoding a plain mapping under the `env` key directly into Local.
func (e *Env) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	// Attempt to decode mapping of string->string
	var m map[string]string
	if err := value.Decode(&m); err != nil {
		return err
	}
	e.Local = FromStringMap(m)
	return nil
}

// merged returns a combined map (Global then overridden by Local).
func (e *Env) merged() map[string]string {
	m := map[string]string{}
	if e != nil && e.Global != nil {
		for k, v := range e.Global {
			if v != nil {
				m[k] = v.String()
			}
		}
	}
	if e != nil && e.Local != nil {
		for k, v := range e.Local {
			if v != nil {
				m[k] = v.String()
			}
		}
	}
	return m
}

// dataForTemplate builds the dot object for template execution with grouped
// lookups ({{.env.PORT}}, {{.auth.registry}}).
func (e *Env) dataForTemplate() map[string]interface{} {
	data := map[string]interface{}{}
	merged := e.merged()
	data["env"] = merged
	am := map[string]interface{}{}
	if e != nil && e.Auth != nil {
		for k, v := range e.Auth {
			am[k] = v
		}
	}
	data["auth"] = am
	return data
}

// Lookup searches Local first, then Global.
func (e *Env) Lookup(key string) (string, bool) {
	if e != nil && e.Local != nil {
		if v, ok := e.Local[key]; ok {
			if v != nil {
				return v.String(), true
			}
		}
	}
	if e != nil && e.Global != nil {
		if v, ok := e.Global[key]; ok {
			if v != nil {
				return v.String(), true
			}
		}
	}
	return "", false
}

// RenderGoTemplate renders strings like {{.env.PORT}} using default Go delimiters.
// Missing keys keep the original string unchanged.
// text/template is used deliberately: rendered values feed command argv,
// URLs and DSNs where HTML escaping would corrupt the output.
func (e *Env) RenderGoTemplate(s string) string {
	if len(s) == 0 {
		return s
	}
	t, err := template.New("gotmpl").Option("missingkey=error").Parse(s)
	if err != nil {
		return s
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, e.dataForTemplate()); err != nil {
		return s
	}
	return buf.String()
}

// RenderGoTemplateErr behaves like RenderGoTemplate but returns an error when
// the template cannot be parsed or executed (including missing keys due to missingkey=error).
// This is useful for critical contexts like probe DSNs where silent fallback would hide issues.
func (e *Env) RenderGoTemplateErr(s string) (string, error) {
	if len(s) == 0 {
		return s, nil
	}
	t, err := template.New("gotmpl").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, e.dataForTemplate()); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderAll renders every string in the given slice, returning a new slice.
func (e *Env) RenderAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = e.RenderGoTemplate(s)
	}
	return out
}

// RenderMap renders every value in the given map, returning a new map.
func (e *Env) RenderMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = e.RenderGoTemplate(v)
	}
	return out
}
