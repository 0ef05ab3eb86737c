// Package reconcile builds the expected test-case matrix for a pipeline run
// and merges actual results, log errors, and performance metrics into it.
package reconcile

import (
	"fmt"
	"strings"
)

// StatusSkipped is the placeholder status before any actual result is merged.
const StatusSkipped = "Skipped"

// StatusSucceeded is the success sentinel actual records carry.
const StatusSucceeded = "succeeded"

const notAvailable = "N/A"

// Record is one test-case row of the reconciled matrix. Field names mirror
// the persisted document layout.
type Record struct {
	// ID correlates a record with the log file that produced it; it is the
	// leading underscore-delimited token of the log filename.
	ID string `json:"id,omitempty"`

	TestcaseName    string `json:"TestcaseName"`
	Architecture    string `json:"Architecture"`
	PipelineRunID   string `json:"PipelineRunID"`
	PipelineRunLink string `json:"PipelineRunLink"`
	Status          string `json:"Status"`
	TimeStamp       string `json:"TimeStamp"`
	AgentName       string `json:"AgentName"`

	// ErrorType is the int classification code (1, 2, or 3) once error info
	// is back-filled, "N/A" otherwise.
	ErrorType    any    `json:"ErrorType"`
	ErrorMessage string `json:"ErrorMessage"`

	RepoName    string `json:"RepoName"`
	RepoCommit  string `json:"RepoCommit"`
	RepoBranch  string `json:"RepoBranch"`
	TriggerType string `json:"TriggerType"`
	TriggeredBy string `json:"TriggeredBy"`
	Duration    string `json:"Duration"`

	// PerformanceMetrics is "None" for placeholders, a serialized JSON string
	// once a document-shaped result is attached, and otherwise whatever the
	// locator returned.
	PerformanceMetrics any `json:"PerformanceMetrics"`
}

// Metadata carries repository and trigger information for a build, read from
// the run's metadata document.
type Metadata struct {
	RepoName    string `json:"repo_name"`
	RepoCommit  string `json:"repo_commit"`
	RepoBranch  string `json:"repo_branch"`
	TriggerType string `json:"trigger_type"`
	TriggeredBy string `json:"triggered_by"`
}

// TestcaseName constructs the expected test-case identifier for a matrix
// cell. Prediction and evaluation phases use different shapes.
func TestcaseName(phase, platform, model string) string {
	if phase == "Prediction" {
		return fmt.Sprintf("Prediction_Stage_%s.Prediction.%s", platform, model)
	}
	return fmt.Sprintf("%s_Stage_%s.%s_%s.__default", phase, platform, phase, model)
}

// ErrorCode classifies a test case for persistence: 2 for prediction cases,
// 3 for evaluation cases, 1 for anything else.
func ErrorCode(testcaseName string) int {
	switch {
	case strings.Contains(testcaseName, "Prediction"):
		return 2
	case strings.Contains(testcaseName, "Evaluation"):
		return 3
	default:
		return 1
	}
}

// applyActual copies every field the actual record defines onto r. Fields the
// actual record omits keep their placeholder values.
func (r *Record) applyActual(actual map[string]any) {
	setString(actual, "id", &r.ID)
	setString(actual, "TestcaseName", &r.TestcaseName)
	setString(actual, "Architecture", &r.Architecture)
	setString(actual, "PipelineRunID", &r.PipelineRunID)
	setString(actual, "PipelineRunLink", &r.PipelineRunLink)
	setString(actual, "Status", &r.Status)
	setString(actual, "TimeStamp", &r.TimeStamp)
	setString(actual, "AgentName", &r.AgentName)
	setString(actual, "ErrorMessage", &r.ErrorMessage)
	setString(actual, "RepoName", &r.RepoName)
	setString(actual, "RepoCommit", &r.RepoCommit)
	setString(actual, "RepoBranch", &r.RepoBranch)
	setString(actual, "TriggerType", &r.TriggerType)
	setString(actual, "TriggeredBy", &r.TriggeredBy)
	setString(actual, "Duration", &r.Duration)

	if v, ok := actual["ErrorType"]; ok {
		r.ErrorType = normalizeCode(v)
	}
	if v, ok := actual["PerformanceMetrics"]; ok {
		r.PerformanceMetrics = v
	}
}

func setString(m map[string]any, key string, dst *string) {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			*dst = s
		}
	}
}

// normalizeCode turns JSON numbers back into ints; anything else (including
// the "N/A" sentinel) passes through unchanged.
func normalizeCode(v any) any {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return v
}
