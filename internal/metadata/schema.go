package metadata

// Definition is the part shared by collections and globals: a slug and an
// ordered list of fields.
type Definition struct {
	Slug   string  `json:"slug" yaml:"slug"`
	Label  string  `json:"label,omitempty" yaml:"label"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Def returns the shared definition.
func (d *Definition) Def() *Definition { return d }

// GetField returns a pointer to the top-level field with the given name, or nil.
func (d *Definition) GetField(name string) *Field {
	return findField(d.Fields, name)
}

// HasField returns true if the schema has a top-level field with the given name.
func (d *Definition) HasField(name string) bool {
	return d.GetField(name) != nil
}

// FieldNames returns all top-level field names in order.
func (d *Definition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// VisibleFields returns the fields exposed through the generated APIs.
func (d *Definition) VisibleFields() []Field {
	var fields []Field
	for _, f := range d.Fields {
		if !f.Hidden {
			fields = append(fields, f)
		}
	}
	return fields
}

// References calls fn for every relationship/upload field, including those
// nested in array elements. Paths are dotted ("socialLinks.icon").
func (d *Definition) References(fn func(path string, f *Field)) {
	walkReferences("", d.Fields, fn)
}

// Schema is either a *Collection or a *Global.
type Schema interface {
	Def() *Definition
	Rule(op Operation) AccessRule
	IsGlobal() bool
}

// UploadConfig marks a collection whose documents describe stored files.
type UploadConfig struct {
	MimeTypes []string `json:"mimeTypes,omitempty" yaml:"mimeTypes"`
}

// Collection is a multi-document schema.
type Collection struct {
	Definition `yaml:",inline"`
	Access     CollectionAccess `json:"-" yaml:"-"`
	Auth       bool             `json:"auth,omitempty" yaml:"auth"`
	Upload     *UploadConfig    `json:"upload,omitempty" yaml:"upload"`
}

// Rule returns the access rule for op, or nil when none is defined.
func (c *Collection) Rule(op Operation) AccessRule {
	switch op {
	case OpCreate:
		return c.Access.Create
	case OpRead:
		return c.Access.Read
	case OpUpdate:
		return c.Access.Update
	case OpDelete:
		return c.Access.Delete
	}
	return nil
}

func (c *Collection) IsGlobal() bool { return false }

// Global is a singleton schema.
type Global struct {
	Definition `yaml:",inline"`
	Access     GlobalAccess `json:"-" yaml:"-"`
}

// Rule returns the read or update rule. Create and delete never have a rule.
func (g *Global) Rule(op Operation) AccessRule {
	switch op {
	case OpRead:
		return g.Access.Read
	case OpUpdate:
		return g.Access.Update
	}
	return nil
}

func (g *Global) IsGlobal() bool { return true }

// Field names managed by the engine for auth-enabled collections.
const (
	AuthEmailField = "email"
	AuthHashField  = "hash"
)

// withAuthFields prepends the identity fields of an auth collection unless the
// definition already declares them.
func withAuthFields(fields []Field) []Field {
	var extra []Field
	if findField(fields, AuthEmailField) == nil {
		extra = append(extra, Field{Name: AuthEmailField, Type: FieldEmail, Required: true, Unique: true})
	}
	if findField(fields, AuthHashField) == nil {
		extra = append(extra, Field{Name: AuthHashField, Type: FieldText, Hidden: true})
	}
	if len(extra) == 0 {
		return fields
	}
	return append(extra, fields...)
}
