package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/archgraph/internal/classify"
	"github.com/alfredjeanlab/archgraph/internal/scope"
)

// Project is the per-project analysis configuration, read from a TOML file:
//
//	name = "shop"
//
//	[[scope]]
//	include = "src/main/**"
//
//	[[scope]]
//	exclude = "**/generated/**"
//
//	[roles]
//	RestController = "controller"
//	Gateway = "gateway"
type Project struct {
	Name  string            `toml:"name"`
	Scope []scope.Rule      `toml:"scope"`
	Roles map[string]string `toml:"roles"`
}

// LoadProject decodes a project file. Unknown keys are an error so that
// typos in rule names do not silently widen the scope.
func LoadProject(path string) (*Project, error) {
	var p Project
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return nil, fmt.Errorf("read project file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("project file %s: unknown key %q", path, undecoded[0].String())
	}
	if _, err := p.Filter(); err != nil {
		return nil, fmt.Errorf("project file %s: %w", path, err)
	}
	return &p, nil
}

// Filter compiles the scope rules.
func (p *Project) Filter() (*scope.Filter, error) {
	if p == nil {
		return scope.New(nil)
	}
	return scope.New(p.Scope)
}

// Classifier returns the role classifier with the project's role
// overrides applied on top of the defaults.
func (p *Project) Classifier() *classify.AnnotationClassifier {
	if p == nil {
		return classify.New(nil)
	}
	return classify.New(p.Roles)
}
