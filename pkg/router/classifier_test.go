package router

import (
	"testing"

	"github.com/mirrorlake/steward/pkg/schema"
)

func TestClassifyTaskDefaults(t *testing.T) {
	got := ClassifyTask("hello there")
	if got.ResourceType != schema.ResourceMixed {
		t.Fatalf("expected mixed, got %s", got.ResourceType)
	}
	if got.Complexity != schema.ComplexitySimple {
		t.Fatalf("expected simple for a two-word prompt, got %s", got.Complexity)
	}
}

func TestClassifyTaskCoding(t *testing.T) {
	got := ClassifyTask("fix the bug in this function and add a unit test")
	if got.ResourceType != schema.ResourceCoding {
		t.Fatalf("expected coding, got %s", got.ResourceType)
	}
}

func TestClassifyTaskSearch(t *testing.T) {
	got := ClassifyTask("look up the latest news and compare the coverage")
	if got.ResourceType != schema.ResourceSearch {
		t.Fatalf("expected search, got %s", got.ResourceType)
	}
}

func TestClassifyTaskComplexMarkers(t *testing.T) {
	got := ClassifyTask("design the architecture step by step")
	if got.Complexity != schema.ComplexityComplex {
		t.Fatalf("expected complex, got %s", got.Complexity)
	}
}

func TestClassifyTaskDeterministic(t *testing.T) {
	text := "analyze why this code has a bug and explain the trade-off"
	first := ClassifyTask(text)
	for i := 0; i < 10; i++ {
		if ClassifyTask(text) != first {
			t.Fatal("classification must be deterministic")
		}
	}
}

func TestClassifyTaskWordBoundaries(t *testing.T) {
	// "codebase" must not trigger the "code" rule.
	got := ClassifyTask("tell me about the codebase history")
	if got.ResourceType == schema.ResourceCoding {
		t.Fatalf("substring inside a word must not match, got %s", got.ResourceType)
	}
}
