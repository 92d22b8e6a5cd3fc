// Package classifier decides whether a request fits a single specialist
// or needs a supervised multi-agent plan.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mtzanidakis/vibe/internal/agent"
	"github.com/mtzanidakis/vibe/internal/keywords"
	"github.com/mtzanidakis/vibe/internal/llm"
)

type Complexity string

const (
	Simple  Complexity = "SIMPLE"
	Complex Complexity = "COMPLEX"
)

type Scope string

const (
	ScopeNarrow Scope = "narrow"
	ScopeBroad  Scope = "broad"
)

// Analysis sources.
const (
	SourceHeuristic = "heuristic"
	SourceModel     = "model"
)

type Factors struct {
	Scope            Scope    `json:"scope"`
	Steps            int      `json:"steps"`
	ToolsRequired    []string `json:"tools_required"`
	KnowledgeDomains []string `json:"knowledge_domains"`
}

type Analysis struct {
	Complexity Complexity `json:"complexity"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
	Factors    Factors    `json:"factors"`
	Source     string     `json:"source,omitempty"`
}

// Validate normalizes a model-produced analysis.
func (a *Analysis) Validate() error {
	switch Complexity(strings.ToUpper(string(a.Complexity))) {
	case Simple:
		a.Complexity = Simple
	case Complex:
		a.Complexity = Complex
	default:
		return fmt.Errorf("invalid complexity %q", a.Complexity)
	}
	a.Confidence = min(max(a.Confidence, 0), 1)
	if a.Factors.Steps < 1 {
		a.Factors.Steps = 1
	}
	if a.Factors.Scope != ScopeBroad {
		a.Factors.Scope = ScopeNarrow
	}
	if len(a.Factors.KnowledgeDomains) == 0 {
		a.Factors.KnowledgeDomains = []string{"general"}
	}
	return nil
}

// EstimateDuration is a scheduling hint: 30s for simple requests, five
// minutes per step (at least one minute) for complex ones.
func (a *Analysis) EstimateDuration() time.Duration {
	if a.Complexity != Complex {
		return 30 * time.Second
	}
	return time.Duration(max(60, a.Factors.Steps*300)) * time.Second
}

// NeedsSupervisor reports whether the request calls for a coordinating
// agent.
func (a *Analysis) NeedsSupervisor() bool {
	return a.Complexity == Complex ||
		len(a.Factors.KnowledgeDomains) > 2 ||
		a.Factors.Steps > 5
}

const (
	complexConfidence  = 0.8
	simpleConfidence   = 0.95
	fallbackConfidence = 0.6
)

type Classifier struct {
	gen llm.Generator
}

// New returns a Classifier. gen may be nil, in which case undecided
// requests keep the heuristic verdict.
func New(gen llm.Generator) *Classifier {
	return &Classifier{gen: gen}
}

// Heuristic classifies without any external call. The boolean reports
// whether a marker settled the verdict.
func Heuristic(message string) (Analysis, bool) {
	norm := normalize(message)
	steps := countSteps(norm)
	matched := detectDomains(keywords.Content(message))
	doms := matched
	if len(doms) == 0 {
		doms = []string{"general"}
	}

	a := Analysis{
		Factors: Factors{
			Scope:            ScopeNarrow,
			Steps:            steps,
			ToolsRequired:    []string{},
			KnowledgeDomains: doms,
		},
		Source: SourceHeuristic,
	}

	complexFound := findMarkers(norm, complexMarkers)
	domainCount := len(matched)
	if len(complexFound) > 0 || steps > 3 || domainCount > 2 {
		a.Complexity = Complex
		a.Confidence = complexConfidence
		a.Factors.Scope = ScopeBroad
		a.Reasoning = complexReason(complexFound, steps, domainCount)
		return a, true
	}

	if simple := findMarkers(norm, simpleMarkers); len(simple) > 0 {
		a.Complexity = Simple
		a.Confidence = simpleConfidence
		a.Reasoning = fmt.Sprintf("simple request marker %q", simple[0])
		return a, true
	}

	a.Complexity = Simple
	a.Confidence = fallbackConfidence
	a.Reasoning = "no complexity markers detected"
	return a, false
}

func complexReason(markers []string, steps, domains int) string {
	var parts []string
	if len(markers) > 0 {
		parts = append(parts, fmt.Sprintf("complex marker %q", markers[0]))
	}
	if steps > 3 {
		parts = append(parts, fmt.Sprintf("%d sequenced steps", steps))
	}
	if domains > 2 {
		parts = append(parts, fmt.Sprintf("%d knowledge domains", domains))
	}
	return strings.Join(parts, ", ")
}

// Classify runs the heuristic and, when no marker decides, asks the model
// once. A failed model call keeps the heuristic verdict.
func (c *Classifier) Classify(ctx context.Context, message string, history []llm.Message, agents []agent.Agent) Analysis {
	h, decided := Heuristic(message)
	if decided || c.gen == nil {
		return h
	}

	resp, err := c.gen.Generate(ctx, []llm.Message{
		llm.System(classifyPrompt(agents)),
		llm.User(userPrompt(message, history)),
	})
	if err != nil {
		slog.Warn("complexity classification failed, using heuristic", "error", err)
		return h
	}

	var a Analysis
	if err := llm.Decode(resp.Content, &a); err != nil {
		slog.Warn("unparseable complexity classification, using heuristic", "error", err)
		return h
	}
	if a.Factors.Steps < h.Factors.Steps {
		a.Factors.Steps = h.Factors.Steps
	}
	if a.Factors.ToolsRequired == nil {
		a.Factors.ToolsRequired = []string{}
	}
	a.Source = SourceModel
	slog.Debug("complexity classified", "complexity", a.Complexity, "confidence", a.Confidence)
	return a
}

func classifyPrompt(agents []agent.Agent) string {
	var b strings.Builder
	b.WriteString(`You classify user requests for a team of specialist agents.

A request is SIMPLE when one specialist can answer it directly. It is COMPLEX when it needs
several steps that depend on each other, spans more than two skill domains, or asks for a
broad deliverable such as a whole product, system or campaign.

Consider:
- how many distinct steps the work needs
- how many skill domains are involved
- whether later steps depend on the output of earlier ones
- whether the deliverable is narrow (one answer or artifact) or broad

`)
	if len(agents) > 0 {
		b.WriteString("Available specialists:\n")
		for _, a := range agents {
			fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Respond with a single JSON object and nothing else:
{"complexity": "SIMPLE" or "COMPLEX", "confidence": 0.0-1.0, "reasoning": "...",
 "factors": {"scope": "narrow" or "broad", "steps": 1, "tools_required": [], "knowledge_domains": []}}`)
	return b.String()
}

func userPrompt(message string, history []llm.Message) string {
	if len(history) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nRequest to classify:\n")
	b.WriteString(message)
	return b.String()
}
