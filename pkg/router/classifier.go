package router

import (
	"strings"

	"github.com/mirrorlake/steward/pkg/schema"
)

// Classification is the heuristic estimate for a task's text.
type Classification struct {
	Complexity   schema.Complexity
	ResourceType schema.ResourceType
}

// resourceTriggers maps resource types to trigger phrases. Matching is
// word-boundary aware and case-insensitive.
var resourceTriggers = map[schema.ResourceType][]string{
	schema.ResourceCoding: {
		"code", "function", "bug", "debug", "refactor", "compile",
		"implement", "unit test", "script", "stack trace", "api",
	},
	schema.ResourceSearch: {
		"search", "find", "look up", "latest", "news", "research",
		"compare", "what is", "who is",
	},
	schema.ResourceCreative: {
		"story", "poem", "creative", "brainstorm", "blog post",
		"draft", "slogan", "lyrics",
	},
	schema.ResourceReasoning: {
		"analyze", "explain", "why", "prove", "plan", "evaluate",
		"decide", "trade-off", "pros and cons",
	},
}

// resourceOrder fixes tie-breaking so classification stays deterministic.
var resourceOrder = []schema.ResourceType{
	schema.ResourceReasoning,
	schema.ResourceCoding,
	schema.ResourceSearch,
	schema.ResourceCreative,
}

var complexityTriggers = []string{
	"step by step", "architecture", "design", "comprehensive",
	"detailed", "end-to-end", "multi-step", "in depth",
}

// ClassifyTask derives a complexity and resource type for a task's text.
// It is deterministic, has no side effects, and defaults to moderate/mixed
// when no rule matches.
func ClassifyTask(text string) Classification {
	lower := strings.ToLower(text)

	scores := make(map[schema.ResourceType]int)
	matched := 0
	for resource, triggers := range resourceTriggers {
		for _, trigger := range triggers {
			if containsTrigger(lower, trigger) {
				scores[resource]++
			}
		}
		if scores[resource] > 0 {
			matched++
		}
	}

	resource := schema.ResourceMixed
	best := 0
	for _, candidate := range resourceOrder {
		if scores[candidate] > best {
			best = scores[candidate]
			resource = candidate
		}
	}

	return Classification{
		Complexity:   classifyComplexity(lower, matched),
		ResourceType: resource,
	}
}

func classifyComplexity(lower string, resourcesMatched int) schema.Complexity {
	words := len(strings.Fields(lower))

	for _, trigger := range complexityTriggers {
		if containsTrigger(lower, trigger) {
			return schema.ComplexityComplex
		}
	}
	if words > 80 || resourcesMatched >= 3 {
		return schema.ComplexityComplex
	}
	if words < 12 && resourcesMatched <= 1 {
		return schema.ComplexitySimple
	}
	return schema.ComplexityModerate
}

// containsTrigger checks if the text contains the trigger phrase on word
// boundaries.
func containsTrigger(text, trigger string) bool {
	idx := strings.Index(text, trigger)
	if idx == -1 {
		return false
	}

	if idx > 0 && isWordChar(text[idx-1]) {
		return false
	}
	endIdx := idx + len(trigger)
	if endIdx < len(text) && isWordChar(text[endIdx]) {
		return false
	}
	return true
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
