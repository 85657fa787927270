// Package classify derives role labels for classes from their annotations.
package classify

import (
	"sort"
	"strings"
)

// Role labels assigned by the default mapping.
const (
	RoleController    = "controller"
	RoleService       = "service"
	RoleRepository    = "repository"
	RoleComponent     = "component"
	RoleConfiguration = "configuration"
	RoleEntity        = "entity"
)

// Classifier maps a class's annotations to role labels.
type Classifier interface {
	Classify(annotations []string) []string
}

// DefaultRoles maps common framework stereotype annotations to roles.
var DefaultRoles = map[string]string{
	"RestController": RoleController,
	"Controller":     RoleController,
	"Service":        RoleService,
	"Repository":     RoleRepository,
	"Component":      RoleComponent,
	"Configuration":  RoleConfiguration,
	"Entity":         RoleEntity,
}

// AnnotationClassifier matches annotations by simple name against a role
// table. "@org.springframework.stereotype.Service" and "Service" both match
// the "Service" entry.
type AnnotationClassifier struct {
	roles map[string]string
}

// New returns a classifier using DefaultRoles overlaid with extra.
// An empty role in extra removes the default mapping for that annotation.
func New(extra map[string]string) *AnnotationClassifier {
	roles := make(map[string]string, len(DefaultRoles)+len(extra))
	for k, v := range DefaultRoles {
		roles[k] = v
	}
	for k, v := range extra {
		k = simpleName(k)
		if v == "" {
			delete(roles, k)
			continue
		}
		roles[k] = v
	}
	return &AnnotationClassifier{roles: roles}
}

// Classify returns the sorted, de-duplicated roles for the annotations.
func (c *AnnotationClassifier) Classify(annotations []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range annotations {
		role, ok := c.roles[simpleName(a)]
		if !ok {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func simpleName(annotation string) string {
	a := strings.TrimSpace(annotation)
	a = strings.TrimPrefix(a, "@")
	if i := strings.IndexByte(a, '('); i >= 0 {
		a = a[:i]
	}
	if i := strings.LastIndexByte(a, '.'); i >= 0 {
		a = a[i+1:]
	}
	return a
}
