package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flowmesh/orchestrator/observability"
)

// criticalImpactKeywords classifies a failed task's description as
// critical-impact when it matches any of these, per §4.5/§8.
var criticalImpactKeywords = []string{"architecture", "security", "auth", "database", "migration", "core", "api"}

// Statistics summarizes one run's task outcomes.
type Statistics struct {
	Total               int
	Successful          int
	Failed              int
	Skipped             int
	TotalDuration       time.Duration
	ParallelismAchieved float64
}

// TaskResultSummary is one task's entry in an AggregatedResult.
type TaskResultSummary struct {
	TaskID      string
	Description string
	Role        Role
	Status      NodeStatus
	KeyFindings string
	Artifacts   []string
}

// FailedTaskSummary describes one failed task and its impact classification.
type FailedTaskSummary struct {
	TaskID      string
	Description string
	Error       string
	Impact      string
}

// AggregatedResult is the Result Aggregator's final structured report.
type AggregatedResult struct {
	Statistics  Statistics
	TaskResults []TaskResultSummary
	FailedTasks []FailedTaskSummary
	Summary     string
	NextSteps   []string
}

type summaryResponse struct {
	Summary   string   `json:"summary"`
	NextSteps []string `json:"nextSteps"`
}

// Aggregator collapses a run's ExecutionResults and statistics into one
// structured report, calling the Model Router for a narrative summary.
type Aggregator struct {
	router  *Router
	metrics *observability.MetricsCollector
}

// NewAggregator creates an Aggregator over router.
func NewAggregator(router *Router, metrics *observability.MetricsCollector) *Aggregator {
	return &Aggregator{router: router, metrics: metrics}
}

// Aggregate produces the final report for results under occtx.
func (a *Aggregator) Aggregate(ctx context.Context, results []ExecutionResult, occtx *OrchestrationContext) AggregatedResult {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordAggregationDuration(time.Since(start))
		}
	}()

	stats := computeStatistics(results)

	taskResults := make([]TaskResultSummary, 0, len(results))
	var failedTasks []FailedTaskSummary
	for _, r := range results {
		taskResults = append(taskResults, TaskResultSummary{
			TaskID:      r.TaskID,
			Description: r.Description,
			Role:        r.Role,
			Status:      r.Status,
			KeyFindings: extractKeyFindings(r.Result),
			Artifacts:   r.Artifacts,
		})
		if r.Status == NodeFailure {
			impact := "minor"
			if containsAny(strings.ToLower(r.Description), criticalImpactKeywords) {
				impact = "critical"
			}
			errMsg := ""
			if r.Error != nil {
				errMsg = r.Error.Message
			}
			failedTasks = append(failedTasks, FailedTaskSummary{
				TaskID:      r.TaskID,
				Description: r.Description,
				Error:       errMsg,
				Impact:      impact,
			})
		}
	}

	summary, nextSteps := a.summarize(ctx, occtx, stats, failedTasks, results)

	return AggregatedResult{
		Statistics:  stats,
		TaskResults: taskResults,
		FailedTasks: failedTasks,
		Summary:     summary,
		NextSteps:   nextSteps,
	}
}

// computeStatistics derives counts, total duration, and parallelism
// achieved per §4.5: totalDuration is latest completedAt minus earliest
// startedAt across results; parallelismAchieved is sum(durations) /
// totalDuration, rounded to two decimals, falling back to 1 when
// totalDuration is zero.
func computeStatistics(results []ExecutionResult) Statistics {
	var stats Statistics
	stats.Total = len(results)

	var earliestStart, latestEnd time.Time
	var sumDurations time.Duration
	first := true

	for _, r := range results {
		switch r.Status {
		case NodeSuccess:
			stats.Successful++
		case NodeFailure:
			stats.Failed++
		case NodeSkipped:
			stats.Skipped++
		}

		if r.StartedAt.IsZero() {
			continue
		}
		sumDurations += time.Duration(r.DurationMS) * time.Millisecond
		if first || r.StartedAt.Before(earliestStart) {
			earliestStart = r.StartedAt
		}
		if first || r.EndedAt.After(latestEnd) {
			latestEnd = r.EndedAt
		}
		first = false
	}

	if !first {
		stats.TotalDuration = latestEnd.Sub(earliestStart)
	}

	if stats.TotalDuration <= 0 {
		stats.ParallelismAchieved = 1
	} else {
		ratio := float64(sumDurations) / float64(stats.TotalDuration)
		stats.ParallelismAchieved = roundTo2(ratio)
	}

	return stats
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// extractKeyFindings pulls a short findings excerpt out of a task result
// per §4.5: a bare string is truncated to 200 chars; an object exposing a
// `summary` or `keyFindings` string field has that value truncated
// instead; anything else yields no findings.
func extractKeyFindings(result any) string {
	switch v := result.(type) {
	case string:
		return truncate(v, 200)
	case map[string]any:
		if s, ok := v["summary"].(string); ok {
			return truncate(s, 200)
		}
		if s, ok := v["keyFindings"].(string); ok {
			return truncate(s, 200)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

const summarizerPrompt = `You are summarizing the outcome of a multi-task orchestration run. Given the ` +
	`original request, run statistics, failed tasks, and per-task results, respond with a JSON object ` +
	`{"summary": "...", "nextSteps": ["...", "..."]}.`

// summarize asks the Model Router (architect role) for a narrative summary
// and next-step list, falling back to a deterministic textual summary if
// the call fails or its response doesn't parse.
func (a *Aggregator) summarize(ctx context.Context, occtx *OrchestrationContext, stats Statistics, failedTasks []FailedTaskSummary, results []ExecutionResult) (string, []string) {
	payload := map[string]any{
		"request":     occtx.Request,
		"statistics":  stats,
		"failedTasks": failedTasks,
		"results":     summarizeValuesForPrompt(results),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fallbackSummary(stats, failedTasks), nil
	}

	resp, err := a.router.Route(ctx, RoleArchitect, ModelRequest{
		SystemPrompt: summarizerPrompt,
		UserPrompt:   string(payloadJSON),
		Temperature:  0.3,
		MaxTokens:    800,
	})
	if err != nil {
		return fallbackSummary(stats, failedTasks), nil
	}

	objText, ok := firstBalancedJSONObject(resp.Content)
	if !ok {
		return fallbackSummary(stats, failedTasks), nil
	}

	var parsed summaryResponse
	if err := json.Unmarshal([]byte(objText), &parsed); err != nil || parsed.Summary == "" {
		return fallbackSummary(stats, failedTasks), nil
	}
	return parsed.Summary, parsed.NextSteps
}

// summarizeValuesForPrompt renders each result's payload as a compact,
// size-bounded value: strings truncated to 500 chars, objects stringified
// to JSON then truncated, so the summarizer prompt stays small regardless
// of how large an individual task's result was.
func summarizeValuesForPrompt(results []ExecutionResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		var value string
		switch v := r.Result.(type) {
		case string:
			value = truncate(v, 500)
		case nil:
			value = ""
		default:
			if b, err := json.Marshal(v); err == nil {
				value = truncate(string(b), 500)
			} else {
				value = truncate(fmt.Sprintf("%v", v), 500)
			}
		}
		out = append(out, map[string]any{
			"taskId": r.TaskID,
			"status": r.Status,
			"value":  value,
		})
	}
	return out
}

// fallbackSummary produces a deterministic textual summary when the
// model-driven summarizer call fails or its output doesn't parse.
func fallbackSummary(stats Statistics, failedTasks []FailedTaskSummary) string {
	criticalCount := 0
	for _, f := range failedTasks {
		if f.Impact == "critical" {
			criticalCount++
		}
	}
	s := fmt.Sprintf("Run completed with %d/%d tasks succeeding, %d failed, %d skipped.",
		stats.Successful, stats.Total, stats.Failed, stats.Skipped)
	if criticalCount > 0 {
		s += fmt.Sprintf(" %d failure(s) are critical-impact and should be addressed first.", criticalCount)
	}
	return s
}
