package templates

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

//go:embed defaults/*.prompt
var defaults embed.FS

// Data is what a prompt template may substitute. Templates are otherwise
// opaque strings to the orchestrator.
type Data struct {
	Category     string
	Team         string
	Priority     string
	RequiredInfo []string
	Context      string
}

// Library loads prompt templates by id. Files in the configured directory
// override the embedded defaults; results are cached.
type Library struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*template.Template
}

func NewLibrary(dir string) *Library {
	return &Library{
		dir:   dir,
		cache: make(map[string]*template.Template),
	}
}

// Load returns the raw template text for an id.
func (l *Library) Load(name string) (string, error) {
	if l.dir != "" {
		path := filepath.Join(l.dir, name+".prompt")
		if content, err := os.ReadFile(path); err == nil {
			return string(content), nil
		}
	}

	content, err := defaults.ReadFile("defaults/" + name + ".prompt")
	if err != nil {
		return "", fmt.Errorf("prompt template %q not found: %w", name, err)
	}
	return string(content), nil
}

// Render loads and executes the template for an id.
func (l *Library) Render(name string, data Data) (string, error) {
	tmpl, err := l.parsed(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error rendering template %q: %w", name, err)
	}
	return buf.String(), nil
}

func (l *Library) parsed(name string) (*template.Template, error) {
	l.mu.RLock()
	tmpl, cached := l.cache[name]
	l.mu.RUnlock()
	if cached {
		return tmpl, nil
	}

	raw, err := l.Load(name)
	if err != nil {
		return nil, err
	}

	tmpl, err = template.New(name).Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("error parsing template %q: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = tmpl
	l.mu.Unlock()
	return tmpl, nil
}
