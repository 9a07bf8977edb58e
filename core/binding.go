package core

import "fmt"

// AgentBinding ties a role to a concrete provider and model. Bindings are
// immutable values configured at startup; several roles may share the same
// provider/model pair.
type AgentBinding struct {
	Role     Role     `json:"role,omitempty" yaml:"role"`
	Provider Provider `json:"provider" yaml:"provider"`
	Model    string   `json:"model" yaml:"model"`
}

// ID returns the agent identifier used in votes, records and metrics.
func (b AgentBinding) ID() string {
	return fmt.Sprintf("%s/%s", b.Provider, b.Model)
}

// Validate checks that the binding names a known provider and a model.
func (b AgentBinding) Validate() error {
	if !b.Provider.Valid() {
		return fmt.Errorf("binding %q: unknown provider %q", b.Role, b.Provider)
	}
	if b.Model == "" {
		return fmt.Errorf("binding %q: model is required", b.Role)
	}
	if b.Role != "" && !b.Role.Valid() {
		return fmt.Errorf("binding: unknown role %q", b.Role)
	}
	return nil
}

// WithRole returns a copy of the binding carrying the given role.
func (b AgentBinding) WithRole(r Role) AgentBinding {
	b.Role = r
	return b
}
