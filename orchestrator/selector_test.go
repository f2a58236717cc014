package orchestrator

import "testing"

func TestSelectorResearch(t *testing.T) {
	sel := NewSelector()

	t.Run("external research keywords favor documentation-library", func(t *testing.T) {
		a := sel.Select(Task{Type: TaskResearch, Description: "look up the external API documentation"})
		if a.Role != RoleDocumentationLibrary || a.Confidence != 0.85 {
			t.Fatalf("got role=%s confidence=%v, want documentation-library/0.85", a.Role, a.Confidence)
		}
	})

	t.Run("codebase research keywords favor code-explorer", func(t *testing.T) {
		a := sel.Select(Task{Type: TaskResearch, Description: "search the codebase to locate the config loader"})
		if a.Role != RoleCodeExplorer || a.Confidence != 0.85 {
			t.Fatalf("got role=%s confidence=%v, want code-explorer/0.85", a.Role, a.Confidence)
		}
	})

	t.Run("no keyword match defaults to documentation-library at 0.75", func(t *testing.T) {
		a := sel.Select(Task{Type: TaskResearch, Description: "investigate options"})
		if a.Role != RoleDocumentationLibrary || a.Confidence != 0.75 {
			t.Fatalf("got role=%s confidence=%v, want documentation-library/0.75", a.Role, a.Confidence)
		}
	})
}

func TestSelectorImplement(t *testing.T) {
	sel := NewSelector()

	a := sel.Select(Task{Type: TaskImplement, Description: "build a react component for the layout"})
	if a.Role != RoleFrontend || a.Confidence != 0.9 {
		t.Fatalf("got role=%s confidence=%v, want frontend/0.9", a.Role, a.Confidence)
	}

	a = sel.Select(Task{Type: TaskImplement, Description: "design the backend service schema"})
	if a.Role != RoleArchitect || a.Confidence != 0.85 {
		t.Fatalf("got role=%s confidence=%v, want architect/0.85", a.Role, a.Confidence)
	}

	a = sel.Select(Task{Type: TaskImplement, Description: "wire up the feature"})
	if a.Role != RoleArchitect || a.Confidence != 0.75 {
		t.Fatalf("got role=%s confidence=%v, want architect/0.75", a.Role, a.Confidence)
	}
}

func TestSelectorReviewDesignTestAnalyze(t *testing.T) {
	sel := NewSelector()

	if a := sel.Select(Task{Type: TaskReview, Description: "ui accessibility review"}); a.Role != RoleFrontend || a.Confidence != 0.9 {
		t.Fatalf("review/ui: got %s/%v", a.Role, a.Confidence)
	}
	if a := sel.Select(Task{Type: TaskReview, Description: "review code for security issues"}); a.Role != RoleArchitect || a.Confidence != 0.85 {
		t.Fatalf("review/code: got %s/%v", a.Role, a.Confidence)
	}
	if a := sel.Select(Task{Type: TaskDesign, Description: "wireframe the new screen"}); a.Role != RoleFrontend || a.Confidence != 0.9 {
		t.Fatalf("design/ui: got %s/%v", a.Role, a.Confidence)
	}
	if a := sel.Select(Task{Type: TaskDesign, Description: "design the domain model"}); a.Role != RoleArchitect || a.Confidence != 0.85 {
		t.Fatalf("design/arch: got %s/%v", a.Role, a.Confidence)
	}
	if a := sel.Select(Task{Type: TaskDocument, Description: "write the user guide"}); a.Role != RoleTechnicalWriter || a.Confidence != 0.95 {
		t.Fatalf("document: got %s/%v", a.Role, a.Confidence)
	}
	if a := sel.Select(Task{Type: TaskTest, Description: "write component screenshot tests"}); a.Role != RoleFrontend || a.Confidence != 0.8 {
		t.Fatalf("test/ui: got %s/%v", a.Role, a.Confidence)
	}
	if a := sel.Select(Task{Type: TaskTest, Description: "write unit test for the logic"}); a.Role != RoleArchitect || a.Confidence != 0.8 {
		t.Fatalf("test/logic: got %s/%v", a.Role, a.Confidence)
	}
	if a := sel.Select(Task{Type: TaskTest, Description: "smoke test the deployment"}); a.Role != RoleArchitect || a.Confidence != 0.7 {
		t.Fatalf("test/default: got %s/%v", a.Role, a.Confidence)
	}
	if a := sel.Select(Task{Type: TaskAnalyze, Description: "analyze the uploaded screenshots"}); a.Role != RoleMultimodalAnalyzer || a.Confidence != 0.9 {
		t.Fatalf("analyze: got %s/%v", a.Role, a.Confidence)
	}
}

func TestSelectorUnknownTypeDefaults(t *testing.T) {
	sel := NewSelector()
	a := sel.Select(Task{Type: TaskType("unknown"), Description: "do something"})
	if a.Role != RoleArchitect || a.Confidence != 0.6 {
		t.Fatalf("got role=%s confidence=%v, want architect/0.6", a.Role, a.Confidence)
	}
}

func TestClampConfidence(t *testing.T) {
	if clampConfidence(-1) != 0 {
		t.Fatal("expected clamp to 0")
	}
	if clampConfidence(1.5) != 1 {
		t.Fatal("expected clamp to 1")
	}
	if clampConfidence(0.5) != 0.5 {
		t.Fatal("expected unchanged")
	}
}
