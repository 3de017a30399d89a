// Package temporal implements a live list snapshot source backed by the
// Temporal visibility API. Workflow executions are presented as workflows:
// the workflow ID is the name, the run ID the UID and the execution status
// is mapped to a phase.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	enumspb "go.temporal.io/api/enums/v1"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/workflow"
)

// DefaultPageSize is the number of executions requested per visibility page.
const DefaultPageSize int32 = 100

type (
	// Lister lists workflow executions. It is satisfied by client.Client.
	Lister interface {
		ListWorkflow(ctx context.Context, req *workflowservice.ListWorkflowExecutionsRequest) (*workflowservice.ListWorkflowExecutionsResponse, error)
	}

	// Options configures a Source.
	Options struct {
		// Client lists executions. Required.
		Client Lister
		// PageSize is the visibility page size. Defaults to DefaultPageSize.
		PageSize int32
		// MaxItems bounds the number of workflows returned. Zero means no
		// bound.
		MaxItems int
	}

	// Source implements livelist.SnapshotSource over Temporal visibility.
	Source struct {
		client   Lister
		pageSize int32
		maxItems int
	}
)

// statusesByPhase lists the execution statuses reported under each phase.
var statusesByPhase = map[workflow.Phase][]enumspb.WorkflowExecutionStatus{
	workflow.PhaseRunning: {
		enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING,
	},
	workflow.PhaseSucceeded: {
		enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW,
	},
	workflow.PhaseFailed: {
		enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
	},
	workflow.PhaseError: {
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
	},
}

// visibilityNames are the ExecutionStatus values accepted by visibility
// queries.
var visibilityNames = map[enumspb.WorkflowExecutionStatus]string{
	enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:          "Running",
	enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:        "Completed",
	enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW: "ContinuedAsNew",
	enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:           "Failed",
	enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:         "Canceled",
	enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:        "TimedOut",
	enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:       "Terminated",
}

// NewSource returns a Source listing executions with opts.Client.
func NewSource(opts Options) (*Source, error) {
	if opts.Client == nil {
		return nil, errors.New("temporal client is required")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Source{client: opts.Client, pageSize: pageSize, maxItems: opts.MaxItems}, nil
}

// List returns the executions of the Temporal namespace named by
// set.Namespace whose status maps to one of the selected phases. Phases with
// no Temporal equivalent (Pending, Skipped, Omitted) select nothing.
func (s *Source) List(ctx context.Context, set filter.Set) ([]*workflow.Workflow, error) {
	query, ok := Query(set.Phases)
	if !ok {
		return nil, nil
	}
	var (
		out   []*workflow.Workflow
		token []byte
	)
	for {
		resp, err := s.client.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
			Namespace:     set.Namespace,
			PageSize:      s.pageSize,
			NextPageToken: token,
			Query:         query,
		})
		if err != nil {
			return nil, fmt.Errorf("list temporal executions in %q: %w", set.Namespace, err)
		}
		for _, info := range resp.GetExecutions() {
			wf := toWorkflow(set.Namespace, info)
			if wf == nil {
				continue
			}
			out = append(out, wf)
			if s.maxItems > 0 && len(out) >= s.maxItems {
				return out, nil
			}
		}
		token = resp.GetNextPageToken()
		if len(token) == 0 {
			return out, nil
		}
	}
}

// Query returns the visibility query selecting the executions reported
// under phases. An empty phase list selects all executions and yields an
// empty query. ok is false when none of the phases maps to a status.
func Query(phases []workflow.Phase) (query string, ok bool) {
	if len(phases) == 0 {
		return "", true
	}
	var clauses []string
	for _, p := range phases {
		for _, st := range statusesByPhase[p] {
			clauses = append(clauses, fmt.Sprintf("ExecutionStatus = '%s'", visibilityNames[st]))
		}
	}
	if len(clauses) == 0 {
		return "", false
	}
	return strings.Join(clauses, " OR "), true
}

// PhaseOf maps an execution status to a phase.
func PhaseOf(status enumspb.WorkflowExecutionStatus) workflow.Phase {
	for phase, statuses := range statusesByPhase {
		for _, st := range statuses {
			if st == status {
				return phase
			}
		}
	}
	return workflow.PhasePending
}

func toWorkflow(namespace string, info *workflowpb.WorkflowExecutionInfo) *workflow.Workflow {
	exec := info.GetExecution()
	if exec.GetWorkflowId() == "" {
		return nil
	}
	wf := &workflow.Workflow{
		Key:             workflow.Key{Namespace: namespace, Name: exec.GetWorkflowId()},
		UID:             exec.GetRunId(),
		ResourceVersion: exec.GetRunId() + ":" + strconv.FormatInt(info.GetHistoryLength(), 10),
		Phase:           PhaseOf(info.GetStatus()),
	}
	if ts := info.GetStartTime(); ts != nil {
		wf.CreatedAt = ts.AsTime()
	}
	labels := map[string]string{}
	if name := info.GetType().GetName(); name != "" {
		labels["workflow-type"] = name
	}
	if tq := info.GetTaskQueue(); tq != "" {
		labels["task-queue"] = tq
	}
	if len(labels) > 0 {
		wf.Labels = labels
	}
	return wf
}
