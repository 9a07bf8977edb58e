package core

import (
	"fmt"
	"strings"
)

// Role is an abstract task category mapped to a concrete agent binding.
type Role string

// Supported roles.
const (
	RoleArchitect Role = "architect"
	RoleCoder     Role = "coder"
	RoleReviewer  Role = "reviewer"
	RoleExplainer Role = "explainer"
	RoleDebugger  Role = "debugger"
	RoleOptimizer Role = "optimizer"
)

// Roles lists every supported role in declaration order.
func Roles() []Role {
	return []Role{RoleArchitect, RoleCoder, RoleReviewer, RoleExplainer, RoleDebugger, RoleOptimizer}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole converts user input into a Role. Matching ignores case and
// surrounding whitespace. Unknown names yield an error matching ErrUnknownRole.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", &CallError{Kind: KindUnknownRole, Message: fmt.Sprintf("unknown role %q", s)}
	}
	return r, nil
}

// Provider identifies the remote API family serving a model.
type Provider string

// Supported providers.
const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Providers lists every supported provider.
func Providers() []Provider {
	return []Provider{ProviderAnthropic, ProviderOpenAI, ProviderGemini}
}

// Valid reports whether p is one of the declared providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		return true
	default:
		return false
	}
}

func (p Provider) String() string { return string(p) }

// ParseProvider converts configuration input into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}
