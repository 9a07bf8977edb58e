package pipeline

import "github.com/hupe1980/agentcouncil/internal/prompt"

const implementSystem = "You are an expert software developer."

var (
	designPrompt = prompt.Must("design", `
Design the system architecture for: {{.prompt}}
{{if .context}}
User context:
{{json .context}}
{{end}}
Respond with a JSON object containing:
- "overview": the high-level architecture
- "components": a list of {"name", "responsibility"}
- "data_flow": how data moves between components
- "api": the public operations or endpoints
`)

	implementPrompt = prompt.Must("implement", `
Implement this architecture:
{{json .design}}

Requirements: {{.prompt}}

Generate complete, production-ready code.
`)

	reviewPrompt = prompt.Must("review", `
Review this code for security, performance, best practices and edge cases:

{{.content}}

Respond with a JSON object: {"issues": [{"severity": "...", "description": "..."}], "suggestions": ["..."]}.
Use an empty "issues" list when nothing must change.
`)

	revisePrompt = prompt.Must("revise", `
Refactor this code to address these issues:
{{json .issues}}

Original code:
{{.content}}
`)

	documentPrompt = prompt.Must("document", `
Generate comprehensive documentation for:

Architecture: {{json .design}}
Code:
{{.content}}

Include usage examples and an API reference.
`)
)
