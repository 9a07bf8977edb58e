package pipeline

// Design is the architecture produced by the design stage.
type Design struct {
	Overview   string      `json:"overview" description:"high-level architecture"`
	Components []Component `json:"components" description:"component breakdown"`
	DataFlow   string      `json:"data_flow,omitempty" description:"how data moves between components"`
	API        []string    `json:"api,omitempty" description:"public operations or endpoints"`
}

// Component is one building block of a Design.
type Component struct {
	Name           string `json:"name"`
	Responsibility string `json:"responsibility"`
}

// Review is the verdict produced by the review stage. An empty Issues list
// means the content is accepted as is.
type Review struct {
	Issues      []Issue  `json:"issues" description:"problems that must be fixed; empty when none"`
	Suggestions []string `json:"suggestions,omitempty" description:"optional improvements"`
}

// Issue is a single review finding.
type Issue struct {
	Severity    string `json:"severity,omitempty" description:"low, medium, high or critical"`
	Description string `json:"description"`
}
