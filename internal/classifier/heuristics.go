package classifier

import (
	"regexp"
	"strings"

	"github.com/mtzanidakis/vibe/internal/keywords"
)

// Phrase markers are matched on normalized text (lowercase, punctuation
// and hyphens turned into spaces) at word boundaries.
var simpleMarkers = []string{
	"what is",
	"what are",
	"what does",
	"who is",
	"explain",
	"how to",
	"how do i",
	"how does",
	"define",
	"tell me",
	"quick question",
	"summarize",
	"translate",
	"fix typo",
	"why does",
}

var complexMarkers = []string{
	"build a",
	"build an",
	"create a complete",
	"full stack",
	"end to end",
	"from scratch",
	"entire",
	"comprehensive",
	"complete system",
	"production ready",
	"multi step",
	"design and implement",
	"plan and execute",
	"and then",
	"integrate with",
}

var stepWords = []string{
	"first",
	"second",
	"third",
	"then",
	"next",
	"after that",
	"afterwards",
	"finally",
	"lastly",
}

var stepNumber = regexp.MustCompile(`\bstep \d+\b`)

// domains are the fixed knowledge-domain keyword sets, in reporting order.
var domains = []struct {
	name  string
	words *keywords.Set
}{
	{"code", keywords.NewSet("code", "coding", "program", "function", "bug", "debug", "api", "backend", "frontend",
		"software", "script", "compile", "refactor", "deploy", "developer", "implement", "repository", "server")},
	{"design", keywords.NewSet("design", "ui", "ux", "layout", "logo", "mockup", "wireframe", "color", "typography",
		"figma", "interface", "visual", "branding", "dashboard")},
	{"data", keywords.NewSet("data", "dataset", "database", "sql", "analytics", "analysis", "statistics", "chart",
		"csv", "query", "visualization", "metrics", "etl")},
	{"marketing", keywords.NewSet("marketing", "seo", "campaign", "audience", "advertising", "social", "funnel",
		"promotion", "newsletter", "conversion")},
	{"writing", keywords.NewSet("write", "article", "blog", "essay", "copywriting", "story", "draft", "edit",
		"proofread", "documentation", "content")},
	{"business", keywords.NewSet("business", "strategy", "startup", "revenue", "stakeholder", "pitch",
		"competitor", "operations", "sales")},
	{"health", keywords.NewSet("health", "medical", "fitness", "diet", "nutrition", "symptom", "exercise",
		"wellness", "doctor", "sleep")},
	{"legal", keywords.NewSet("legal", "contract", "law", "compliance", "privacy", "gdpr", "license", "terms",
		"regulation", "liability")},
	{"finance", keywords.NewSet("finance", "budget", "invoice", "tax", "accounting", "investment", "payment",
		"pricing", "cost", "forecast", "stock")},
	{"web", keywords.NewSet("web", "website", "site", "html", "css", "javascript", "browser", "landing", "hosting",
		"ecommerce", "commerce")},
}

func init() {
	if dup := sharedStems(); len(dup) > 0 {
		panic("classifier: domain keyword stems overlap: " + strings.Join(dup, ", "))
	}
}

// sharedStems lists keyword stems claimed by more than one domain. A word
// must count toward a single domain.
func sharedStems() []string {
	owner := make(map[string]string)
	var dup []string
	for _, d := range domains {
		for _, w := range d.words.Keywords() {
			stem := keywords.Stem(w)
			if prev, ok := owner[stem]; ok && prev != d.name {
				dup = append(dup, stem+" ("+prev+", "+d.name+")")
				continue
			}
			owner[stem] = d.name
		}
	}
	return dup
}

func normalize(s string) string {
	return " " + strings.Join(keywords.Tokenize(s), " ") + " "
}

func findMarkers(norm string, markers []string) []string {
	var found []string
	for _, m := range markers {
		if strings.Contains(norm, " "+m+" ") {
			found = append(found, m)
		}
	}
	return found
}

// countSteps estimates the number of sequenced steps from ordering words
// and "step N" references. It is at least 1.
func countSteps(norm string) int {
	n := len(stepNumber.FindAllString(norm, -1))
	for _, w := range stepWords {
		n += strings.Count(norm, " "+w+" ")
	}
	return max(n, 1)
}

func detectDomains(tokens []string) []string {
	var found []string
	for _, d := range domains {
		if d.words.Overlaps(tokens) {
			found = append(found, d.name)
		}
	}
	return found
}
