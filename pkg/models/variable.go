package models

// VariableType is the declared type of a runbook variable.
type VariableType string

const (
	TypeString VariableType = "string"
	TypeInt    VariableType = "int"
	TypeFloat  VariableType = "float"
	TypeBool   VariableType = "bool"
	TypeList   VariableType = "list"
	TypeDict   VariableType = "dict"
)

// VariableSpec declares one variable in the [variables] section.
type VariableSpec struct {
	Name        string       `toml:"-"`
	Default     any          `toml:"default"`
	Required    bool         `toml:"required"`
	Choices     []any        `toml:"choices"`
	Type        VariableType `toml:"type"`
	Min         *float64     `toml:"min"`
	Max         *float64     `toml:"max"`
	Pattern     string       `toml:"pattern"`
	Description string       `toml:"description"`
}
