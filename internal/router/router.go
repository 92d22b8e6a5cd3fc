// Package router picks the agent, or the multi-agent plan, that should
// handle a user message.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mtzanidakis/vibe/internal/agent"
	"github.com/mtzanidakis/vibe/internal/classifier"
	"github.com/mtzanidakis/vibe/internal/config"
	"github.com/mtzanidakis/vibe/internal/keywords"
	"github.com/mtzanidakis/vibe/internal/llm"
)

// ErrNoAgents is returned by Route when no agent is available.
var ErrNoAgents = errors.New("no agents available for routing")

type Mode string

const (
	ModeSingle     Mode = "single"
	ModeSupervisor Mode = "supervisor"
)

// Stage names the step that produced a routing decision.
type Stage string

const (
	StageManual     Stage = "manual"
	StageKeyword    Stage = "keyword"
	StageSemantic   Stage = "semantic"
	StageClassifier Stage = "classifier"
)

// TeamPrefix forces the supervisor path.
const TeamPrefix = "@team"

// Match is one candidate agent with the evidence behind it.
type Match struct {
	Agent      agent.Agent `json:"agent"`
	Confidence float64     `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
	Keywords   []string    `json:"matched_keywords,omitempty"`
}

// Result is a routing decision: a single agent or a supervisor plan.
type Result struct {
	Mode       Mode                  `json:"mode"`
	Confidence float64               `json:"confidence"`
	Reasoning  string                `json:"reasoning"`
	Stage      Stage                 `json:"stage"`
	Agent      *agent.Agent          `json:"agent,omitempty"`
	Plan       *agent.SupervisorPlan `json:"plan,omitempty"`
	Analysis   *classifier.Analysis  `json:"analysis,omitempty"`
	Message    string                `json:"message"`
	Matches    []Match               `json:"-"`
}

const keywordCacheSize = 256

type Router struct {
	gen        llm.Generator
	classifier *classifier.Classifier
	sets       *lru.Cache[string, *keywords.Set]

	mu  sync.RWMutex
	cfg config.RouterConfig
}

func New(gen llm.Generator, cfg config.RouterConfig) *Router {
	sets, _ := lru.New[string, *keywords.Set](keywordCacheSize)
	return &Router{
		gen:        gen,
		classifier: classifier.New(gen),
		sets:       sets,
		cfg:        cfg,
	}
}

// SetConfig swaps thresholds and history depth, used on config reload.
func (r *Router) SetConfig(cfg config.RouterConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Router) config() config.RouterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Route runs the manual override, the keyword stage, the semantic stage
// and finally the complexity-gated fallback. An empty agent list and a
// cyclic decomposition (*swarm.CycleError) are errors; every other failure
// degrades to a fallback decision.
func (r *Router) Route(ctx context.Context, message string, history []llm.Message, agents []agent.Agent) (*Result, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	cfg := r.config()
	history = lastTurns(history, cfg.HistoryTurns)

	// 0. @team / @agent prefix
	if rest, ok := cutPrefix(message, TeamPrefix); ok {
		analysis := r.classifier.Classify(ctx, rest, history, agents)
		return r.supervise(ctx, rest, agents, analysis)
	}
	if strings.HasPrefix(message, "@") {
		name, rest, _ := strings.Cut(strings.TrimPrefix(message, "@"), " ")
		if found := agentNamed(name, agents); found != nil {
			a := *found
			slog.Debug("manual agent override", "agent", a.Name)
			return &Result{
				Mode:       ModeSingle,
				Confidence: 1.0,
				Reasoning:  "manual selection",
				Stage:      StageManual,
				Agent:      &a,
				Message:    strings.TrimSpace(rest),
			}, nil
		}
		// Unknown agent name in prefix, fall through to routing
	}

	// 1. Keyword match
	best, matches := r.keywordMatch(message, agents)
	if best.Confidence >= cfg.KeywordThreshold {
		slog.Debug("routed by keywords", "agent", best.Agent.Name, "confidence", best.Confidence)
		return single(best, StageKeyword, message, matches), nil
	}

	// 2. Semantic match
	semantic := r.semanticMatch(ctx, message, history, agents)
	if semantic.Confidence >= cfg.SemanticThreshold {
		slog.Debug("routed semantically", "agent", semantic.Agent.Name, "confidence", semantic.Confidence)
		return single(semantic, StageSemantic, message, matches), nil
	}

	// 3. Complexity-gated fallback
	analysis := r.classifier.Classify(ctx, message, history, agents)
	if analysis.Complexity == classifier.Simple {
		res := single(semantic, StageClassifier, message, matches)
		res.Analysis = &analysis
		return res, nil
	}
	res, err := r.supervise(ctx, message, agents, analysis)
	if err != nil {
		return nil, err
	}
	res.Matches = matches
	return res, nil
}

func single(m Match, stage Stage, message string, matches []Match) *Result {
	a := m.Agent
	return &Result{
		Mode:       ModeSingle,
		Confidence: m.Confidence,
		Reasoning:  m.Reasoning,
		Stage:      stage,
		Agent:      &a,
		Message:    message,
		Matches:    matches,
	}
}

func (r *Router) supervise(ctx context.Context, message string, agents []agent.Agent, analysis classifier.Analysis) (*Result, error) {
	plan, err := r.buildPlan(ctx, message, agents)
	if err != nil {
		return nil, err
	}
	slog.Info("routed to supervisor plan",
		"supervisor", plan.Supervisor,
		"tasks", len(plan.Tasks),
		"strategy", plan.Strategy,
	)
	return &Result{
		Mode:       ModeSupervisor,
		Confidence: analysis.Confidence,
		Reasoning:  analysis.Reasoning,
		Stage:      StageClassifier,
		Plan:       plan,
		Analysis:   &analysis,
		Message:    message,
	}, nil
}

// keywordSet returns the cached keyword set of a.
func (r *Router) keywordSet(a agent.Agent) *keywords.Set {
	key := a.Name + "\x00" + a.Description + "\x00" + strings.Join(a.Tools, "\x00")
	if s, ok := r.sets.Get(key); ok {
		return s
	}
	s := keywords.ForAgent(a.Name, a.Description, a.Tools)
	r.sets.Add(key, s)
	return s
}

// keywordMatch scores every agent and returns the best one. Ties keep the
// agent listed first.
func (r *Router) keywordMatch(message string, agents []agent.Agent) (Match, []Match) {
	tokens := keywords.Tokenize(message)
	matches := make([]Match, 0, len(agents))
	best := 0
	for i, a := range agents {
		conf, kw := r.keywordSet(a).Score(tokens)
		matches = append(matches, Match{
			Agent:      a,
			Confidence: conf,
			Reasoning:  fmt.Sprintf("matched %d keywords", len(kw)),
			Keywords:   kw,
		})
		if conf > matches[best].Confidence {
			best = i
		}
	}
	return matches[best], matches
}

// DetectContextSwitch reports whether message moves away from what
// current handles: the first three content words of the message share
// no stem with the agent's keywords. An empty topic is not a switch.
func (r *Router) DetectContextSwitch(message string, current agent.Agent) bool {
	topic := keywords.Content(message)
	if len(topic) > 3 {
		topic = topic[:3]
	}
	if len(topic) == 0 {
		return false
	}
	return !r.keywordSet(current).Overlaps(topic)
}

// SelectManualAgent resolves an explicit agent choice: exact name first,
// then case-insensitive, then case-insensitive substring.
func SelectManualAgent(name string, agents []agent.Agent) *agent.Agent {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if a := agentNamed(name, agents); a != nil {
		return a
	}
	lower := strings.ToLower(name)
	for i := range agents {
		if strings.Contains(strings.ToLower(agents[i].Name), lower) {
			return &agents[i]
		}
	}
	return nil
}

// agentNamed matches the full agent name, exactly or case-insensitively.
// An "@" prefix in free text only addresses an agent this way.
func agentNamed(name string, agents []agent.Agent) *agent.Agent {
	if name == "" {
		return nil
	}
	for i := range agents {
		if agents[i].Name == name {
			return &agents[i]
		}
	}
	for i := range agents {
		if strings.EqualFold(agents[i].Name, name) {
			return &agents[i]
		}
	}
	return nil
}

func lastTurns(history []llm.Message, n int) []llm.Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func cutPrefix(message, prefix string) (string, bool) {
	if message == prefix {
		return "", true
	}
	if rest, ok := strings.CutPrefix(message, prefix+" "); ok {
		return strings.TrimSpace(rest), true
	}
	return message, false
}
