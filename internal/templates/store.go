package templates

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/dan-v/launchable/pkg/shared"
)

//go:embed assets/*.sh.tmpl
var embeddedTemplates embed.FS

// Phase template names, in the order they are sent to the remote shell
const (
	Setup   = "setup"
	Scripts = "scripts"
	Run     = "run"
)

// Names lists the recognized template names in phase order
var Names = []string{Setup, Scripts, Run}

var (
	// ErrUnknownTemplate is returned for a name outside Names
	ErrUnknownTemplate = errors.New("unknown template")
	// ErrMissingField is returned when a placeholder has no value in the config
	ErrMissingField = errors.New("missing template field")
)

// FieldSource supplies placeholder values. *config.LaunchConfig implements it.
type FieldSource interface {
	Fields() map[string]interface{}
}

// Script is a rendered template, sent to the remote shell exactly once
type Script struct {
	Name string
	Text string
}

// Store holds the parsed phase templates
type Store struct {
	templates map[string]*template.Template
}

// New returns a Store backed by the embedded templates
func New() (*Store, error) {
	return Load("")
}

// Load returns a Store whose templates are read from dir when present there
// as <name>.sh.tmpl, falling back to the embedded copies otherwise.
func Load(dir string) (*Store, error) {
	s := &Store{templates: make(map[string]*template.Template, len(Names))}

	for _, name := range Names {
		content, err := readTemplate(dir, name)
		if err != nil {
			return nil, err
		}

		tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
		if err != nil {
			return nil, shared.WrapErrorf(err, "failed to parse %s template", name)
		}
		s.templates[name] = tmpl
	}

	return s, nil
}

func readTemplate(dir, name string) (string, error) {
	file := name + ".sh.tmpl"

	if dir != "" {
		path := filepath.Join(dir, file)
		content, err := os.ReadFile(path)
		if err == nil {
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", shared.WrapErrorf(err, "failed to read custom template file %s", path)
		}
	}

	content, err := embeddedTemplates.ReadFile("assets/" + file)
	if err != nil {
		return "", shared.WrapErrorf(err, "failed to read embedded template %s", file)
	}
	return string(content), nil
}

// Render substitutes the config fields into the named template
func (s *Store) Render(name string, cfg FieldSource) (Script, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return Script{}, fmt.Errorf("%w: %q (expected one of %s)", ErrUnknownTemplate, name, strings.Join(Names, ", "))
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, cfg.Fields()); err != nil {
		return Script{}, fmt.Errorf("%w: rendering %s: %v", ErrMissingField, name, err)
	}

	text := out.String()
	if idx := strings.Index(text, "{{"); idx >= 0 {
		return Script{}, fmt.Errorf("%w: unresolved placeholder in %s at offset %d", ErrMissingField, name, idx)
	}

	return Script{Name: name, Text: text}, nil
}

// RenderAll renders every phase template in phase order
func (s *Store) RenderAll(cfg FieldSource) ([]Script, error) {
	scripts := make([]Script, 0, len(Names))
	for _, name := range Names {
		script, err := s.Render(name, cfg)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}
