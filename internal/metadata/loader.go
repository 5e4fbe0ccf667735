package metadata

import (
	"fmt"
	"os"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// SchemaFile is the on-disk form of additional collections and globals.
//
//	collections:
//	  - slug: posts
//	    fields:
//	      - {name: title, type: text, required: true}
//	      - {name: author, type: relationship, relationTo: users}
//	    access:
//	      read: {preset: anyone}
//	      create: {authenticated: true}
//	      update: {roles: [admin]}
type SchemaFile struct {
	Collections []CollectionSpec `yaml:"collections"`
	Globals     []GlobalSpec     `yaml:"globals"`
}

type CollectionSpec struct {
	Collection `yaml:",inline"`
	Rules      AccessSpec `yaml:"access"`
}

type GlobalSpec struct {
	Global `yaml:",inline"`
	Rules  AccessSpec `yaml:"access"`
}

// AccessSpec maps operations to rule specs. An omitted operation denies.
type AccessSpec struct {
	Create *RuleSpec `yaml:"create"`
	Read   *RuleSpec `yaml:"read"`
	Update *RuleSpec `yaml:"update"`
	Delete *RuleSpec `yaml:"delete"`
}

// RuleSpec describes an access rule declaratively. Preset and Allow short
// circuit everything else. Otherwise every gate given (authenticated, roles,
// expression) must pass, and a non-empty Scope turns the allow into a scoped
// allow. Scope values of the form "$identity.id" are substituted per caller.
type RuleSpec struct {
	Preset        string      `yaml:"preset"`
	Allow         *bool       `yaml:"allow"`
	Authenticated bool        `yaml:"authenticated"`
	Roles         []string    `yaml:"roles"`
	Expression    string      `yaml:"expression"`
	Scope         []Condition `yaml:"scope"`
}

// LoadSchemaFile reads and parses a YAML schema file.
func LoadSchemaFile(path string) (*SchemaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return ParseSchemaFile(data)
}

func ParseSchemaFile(data []byte) (*SchemaFile, error) {
	var f SchemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	return &f, nil
}

// Register compiles every rule and registers the file's schemas into reg.
func (f *SchemaFile) Register(reg *Registry) error {
	for i := range f.Collections {
		def := &f.Collections[i]
		c := def.Collection
		var err error
		if c.Access.Create, err = def.Rules.Create.compile(c.Slug, OpCreate); err != nil {
			return err
		}
		if c.Access.Read, err = def.Rules.Read.compile(c.Slug, OpRead); err != nil {
			return err
		}
		if c.Access.Update, err = def.Rules.Update.compile(c.Slug, OpUpdate); err != nil {
			return err
		}
		if c.Access.Delete, err = def.Rules.Delete.compile(c.Slug, OpDelete); err != nil {
			return err
		}
		if err := reg.RegisterCollection(&c); err != nil {
			return err
		}
	}
	for i := range f.Globals {
		def := &f.Globals[i]
		g := def.Global
		if def.Rules.Create != nil || def.Rules.Delete != nil {
			return fmt.Errorf("global %s: only read and update access can be declared", g.Slug)
		}
		var err error
		if g.Access.Read, err = def.Rules.Read.compile(g.Slug, OpRead); err != nil {
			return err
		}
		if g.Access.Update, err = def.Rules.Update.compile(g.Slug, OpUpdate); err != nil {
			return err
		}
		if err := reg.RegisterGlobal(&g); err != nil {
			return err
		}
	}
	return nil
}

func (s *RuleSpec) compile(slug string, op Operation) (AccessRule, error) {
	if s == nil {
		return nil, nil
	}
	if s.Preset != "" {
		switch s.Preset {
		case "anyone":
			return Anyone(), nil
		case "nobody":
			return Nobody(), nil
		case "loggedIn":
			return LoggedIn(), nil
		case "adminOnly":
			return AdminOnly(), nil
		case "adminOrSelf":
			return AdminOrSelf(), nil
		}
		return nil, fmt.Errorf("%s %s access: unknown preset %q", slug, op, s.Preset)
	}
	if s.Allow != nil {
		if *s.Allow {
			return Anyone(), nil
		}
		return Nobody(), nil
	}

	if !s.Authenticated && len(s.Roles) == 0 && s.Expression == "" && len(s.Scope) == 0 {
		return nil, fmt.Errorf("%s %s access: rule declares no preset, allow, gate or scope", slug, op)
	}

	var prog *vm.Program
	if s.Expression != "" {
		var err error
		prog, err = expr.Compile(s.Expression, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%s %s access: compile expression: %w", slug, op, err)
		}
	}
	for _, c := range s.Scope {
		if _, ok := NormalizeOperator(c.Operator); !ok {
			return nil, fmt.Errorf("%s %s access: unknown scope operator %q", slug, op, c.Operator)
		}
	}

	rule := *s
	return func(id Identity) Decision {
		if rule.Authenticated && !id.Authenticated() {
			return Deny()
		}
		if len(rule.Roles) > 0 && !RoleIn(rule.Roles...)(id).Allowed() {
			return Deny()
		}
		if prog != nil {
			result, err := expr.Run(prog, map[string]any{"identity": id.env()})
			if ok, isBool := result.(bool); err != nil || !isBool || !ok {
				return Deny()
			}
		}
		if len(rule.Scope) == 0 {
			return Allow()
		}
		// A scope that references the identity cannot match anonymous callers.
		scope := make([]Condition, len(rule.Scope))
		for i, c := range rule.Scope {
			v, ok := substituteIdentity(c.Value, id)
			if !ok {
				return Deny()
			}
			c.Value = v
			scope[i] = c
		}
		return Scoped(scope...)
	}, nil
}

func substituteIdentity(v any, id Identity) (any, bool) {
	s, isString := v.(string)
	if !isString || !strings.HasPrefix(s, "$identity.") {
		return v, true
	}
	switch strings.TrimPrefix(s, "$identity.") {
	case "id":
		return id.ID, id.ID != ""
	case "email":
		return id.Email, id.Email != ""
	}
	return nil, false
}
