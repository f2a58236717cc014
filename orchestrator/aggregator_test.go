package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/orchestrator/llm"
)

func TestAggregatorStatisticsAndSummaryFromModel(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{text: `{"summary": "Built the feature end to end.", "nextSteps": ["deploy", "monitor"]}`},
	}}
	router := newTestRouter(map[string]llm.Provider{"openai": openai})
	agg := NewAggregator(router, nil)

	base := time.Now()
	results := []ExecutionResult{
		{TaskID: "t1", Description: "research X", Role: RoleArchitect, Status: NodeSuccess, Result: "found X", StartedAt: base, EndedAt: base.Add(100 * time.Millisecond), DurationMS: 100},
		{TaskID: "t2", Description: "implement database migration", Role: RoleArchitect, Status: NodeFailure, Error: &ExecutionError{Message: "boom"}, StartedAt: base, EndedAt: base.Add(200 * time.Millisecond), DurationMS: 200},
		{TaskID: "t3", Description: "document X", Role: RoleTechnicalWriter, Status: NodeSkipped, StartedAt: base.Add(200 * time.Millisecond), EndedAt: base.Add(200 * time.Millisecond)},
	}

	occtx := occtxFor("s1", "build feature X")
	got := agg.Aggregate(context.Background(), results, occtx)

	if got.Statistics.Total != 3 || got.Statistics.Successful != 1 || got.Statistics.Failed != 1 || got.Statistics.Skipped != 1 {
		t.Fatalf("unexpected statistics: %+v", got.Statistics)
	}
	if len(got.FailedTasks) != 1 || got.FailedTasks[0].Impact != "critical" {
		t.Fatalf("expected the database-migration failure classified critical, got %+v", got.FailedTasks)
	}
	if got.Summary != "Built the feature end to end." {
		t.Fatalf("expected model-produced summary, got %q", got.Summary)
	}
	if len(got.NextSteps) != 2 {
		t.Fatalf("expected 2 next steps, got %v", got.NextSteps)
	}
	findings := got.TaskResults[0].KeyFindings
	if findings != "found X" {
		t.Fatalf("expected key findings extracted from string result, got %q", findings)
	}
}

func TestAggregatorFallsBackWhenSummarizerFails(t *testing.T) {
	openai := &fakeProvider{name: "openai", responses: []fakeProviderCall{
		{err: &testServerError{}}, {err: &testServerError{}},
	}}
	router := newTestRouter(map[string]llm.Provider{"openai": openai})
	agg := NewAggregator(router, nil)

	base := time.Now()
	results := []ExecutionResult{
		{TaskID: "t1", Description: "minor cleanup", Role: RoleArchitect, Status: NodeFailure, Error: &ExecutionError{Message: "oops"}, StartedAt: base, EndedAt: base.Add(50 * time.Millisecond), DurationMS: 50},
	}

	got := agg.Aggregate(context.Background(), results, occtxFor("s2", "req"))
	if got.Summary == "" {
		t.Fatal("expected a non-empty fallback summary")
	}
	if got.FailedTasks[0].Impact != "minor" {
		t.Fatalf("expected minor impact for non-keyword task, got %q", got.FailedTasks[0].Impact)
	}
}

func TestComputeStatisticsParallelismAchieved(t *testing.T) {
	base := time.Now()
	results := []ExecutionResult{
		{TaskID: "t1", Status: NodeSuccess, StartedAt: base, EndedAt: base.Add(100 * time.Millisecond), DurationMS: 100},
		{TaskID: "t2", Status: NodeSuccess, StartedAt: base, EndedAt: base.Add(100 * time.Millisecond), DurationMS: 100},
	}
	stats := computeStatistics(results)
	if stats.TotalDuration != 100*time.Millisecond {
		t.Fatalf("expected total duration 100ms, got %s", stats.TotalDuration)
	}
	if stats.ParallelismAchieved != 2 {
		t.Fatalf("expected parallelism 2.0 for two fully-overlapping tasks, got %v", stats.ParallelismAchieved)
	}
}

func TestComputeStatisticsEmptyResultsDefaultParallelism(t *testing.T) {
	stats := computeStatistics(nil)
	if stats.ParallelismAchieved != 1 {
		t.Fatalf("expected default parallelism 1 for empty results, got %v", stats.ParallelismAchieved)
	}
}

func TestExtractKeyFindingsVariants(t *testing.T) {
	if got := extractKeyFindings("short"); got != "short" {
		t.Fatalf("expected passthrough for short string, got %q", got)
	}
	if got := extractKeyFindings(map[string]any{"summary": "from summary field"}); got != "from summary field" {
		t.Fatalf("expected extraction from summary field, got %q", got)
	}
	if got := extractKeyFindings(map[string]any{"keyFindings": "from keyFindings field"}); got != "from keyFindings field" {
		t.Fatalf("expected extraction from keyFindings field, got %q", got)
	}
	if got := extractKeyFindings(42); got != "" {
		t.Fatalf("expected empty findings for unrecognized type, got %q", got)
	}
}
