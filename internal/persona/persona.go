package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nebulus/gantry/internal/platform/envutil"
	"github.com/nebulus/gantry/internal/platform/logger"
)

const DefaultName = "default"

type Persona struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	System      string `yaml:"system" json:"system"`
}

var builtinDefault = Persona{
	Name:        DefaultName,
	DisplayName: "Assistant",
	System: "You are a helpful, knowledgeable assistant. Answer directly and " +
		"honestly. Use the provided context when it is relevant and say so " +
		"when you do not know something.",
}

// Registry holds the persona definitions loaded at startup from
// PERSONA_DIR (*.yaml / *.yml). The built-in default persona is always
// present and serves as the fallback for unknown names.
type Registry struct {
	personas map[string]Persona
	log      *logger.Logger
}

func LoadRegistry(log *logger.Logger) *Registry {
	r := &Registry{
		personas: map[string]Persona{DefaultName: builtinDefault},
		log:      log.With("service", "PersonaRegistry"),
	}

	dir := envutil.Str("PERSONA_DIR", "")
	if dir == "" {
		return r
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.log.Warn("persona dir unreadable (using built-in only)", "dir", dir, "error", err)
		return r
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(ent.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p, err := loadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			r.log.Warn("skipping invalid persona file", "file", ent.Name(), "error", err)
			continue
		}
		r.personas[p.Name] = p
	}
	r.log.Info("personas loaded", "count", len(r.personas))
	return r
}

func loadFile(path string) (Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, err
	}
	var p Persona
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Persona{}, err
	}
	p.Name = strings.TrimSpace(strings.ToLower(p.Name))
	if p.Name == "" {
		return Persona{}, fmt.Errorf("persona %s: missing name", path)
	}
	if strings.TrimSpace(p.System) == "" {
		return Persona{}, fmt.Errorf("persona %s: missing system prompt", path)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	return p, nil
}

// Get resolves a persona by name, falling back to the default.
func (r *Registry) Get(name string) Persona {
	if p, ok := r.personas[strings.TrimSpace(strings.ToLower(name))]; ok {
		return p
	}
	return r.personas[DefaultName]
}

func (r *Registry) List() []Persona {
	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
