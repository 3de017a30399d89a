package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/workflow"
)

type fakeLister struct {
	pages    [][]*workflowpb.WorkflowExecutionInfo
	requests []*workflowservice.ListWorkflowExecutionsRequest
	err      error
}

func (f *fakeLister) ListWorkflow(_ context.Context, req *workflowservice.ListWorkflowExecutionsRequest) (*workflowservice.ListWorkflowExecutionsResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	page := len(f.requests) - 1
	resp := &workflowservice.ListWorkflowExecutionsResponse{Executions: f.pages[page]}
	if page+1 < len(f.pages) {
		resp.NextPageToken = []byte{byte(page + 1)}
	}
	return resp, nil
}

func execution(id, run string, status enumspb.WorkflowExecutionStatus, history int64) *workflowpb.WorkflowExecutionInfo {
	return &workflowpb.WorkflowExecutionInfo{
		Execution:     &commonpb.WorkflowExecution{WorkflowId: id, RunId: run},
		Type:          &commonpb.WorkflowType{Name: "OrderWorkflow"},
		StartTime:     timestamppb.New(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)),
		Status:        status,
		HistoryLength: history,
		TaskQueue:     "orders",
	}
}

func TestListPaginatesAndMaps(t *testing.T) {
	lister := &fakeLister{pages: [][]*workflowpb.WorkflowExecutionInfo{
		{execution("order-1", "r1", enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, 12)},
		{
			execution("order-2", "r2", enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED, 40),
			{Execution: &commonpb.WorkflowExecution{}},
		},
	}}
	src, err := NewSource(Options{Client: lister, PageSize: 1})
	require.NoError(t, err)
	set, err := filter.New("orders")
	require.NoError(t, err)

	items, err := src.List(context.Background(), set)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, lister.requests, 2)
	require.Equal(t, "orders", lister.requests[0].Namespace)
	require.Equal(t, int32(1), lister.requests[0].PageSize)
	require.Empty(t, lister.requests[0].Query)
	require.Nil(t, lister.requests[0].NextPageToken)
	require.Equal(t, []byte{1}, lister.requests[1].NextPageToken)

	first := items[0]
	require.Equal(t, workflow.Key{Namespace: "orders", Name: "order-1"}, first.Key)
	require.Equal(t, "r1", first.UID)
	require.Equal(t, "r1:12", first.ResourceVersion)
	require.Equal(t, workflow.PhaseRunning, first.Phase)
	require.Equal(t, time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), first.CreatedAt)
	require.Equal(t, map[string]string{"workflow-type": "OrderWorkflow", "task-queue": "orders"}, first.Labels)
	require.Equal(t, workflow.PhaseSucceeded, items[1].Phase)
}

func TestListHonorsMaxItems(t *testing.T) {
	lister := &fakeLister{pages: [][]*workflowpb.WorkflowExecutionInfo{
		{
			execution("a", "r", enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, 1),
			execution("b", "r", enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, 1),
		},
		{execution("c", "r", enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, 1)},
	}}
	src, err := NewSource(Options{Client: lister, MaxItems: 2})
	require.NoError(t, err)
	set, err := filter.New("default")
	require.NoError(t, err)
	items, err := src.List(context.Background(), set)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, lister.requests, 1)
	require.Equal(t, DefaultPageSize, lister.requests[0].PageSize)
}

func TestListWithPhases(t *testing.T) {
	lister := &fakeLister{pages: [][]*workflowpb.WorkflowExecutionInfo{{}}}
	src, err := NewSource(Options{Client: lister})
	require.NoError(t, err)

	set, err := filter.New("default", workflow.PhaseRunning, workflow.PhaseError)
	require.NoError(t, err)
	_, err = src.List(context.Background(), set)
	require.NoError(t, err)
	require.Equal(t, "ExecutionStatus = 'Terminated' OR ExecutionStatus = 'Running'", lister.requests[0].Query)

	pending, err := filter.New("default", workflow.PhasePending)
	require.NoError(t, err)
	items, err := src.List(context.Background(), pending)
	require.NoError(t, err)
	require.Empty(t, items)
	require.Len(t, lister.requests, 1)
}

func TestListError(t *testing.T) {
	src, err := NewSource(Options{Client: &fakeLister{err: errors.New("unavailable")}})
	require.NoError(t, err)
	set, err := filter.New("default")
	require.NoError(t, err)
	_, err = src.List(context.Background(), set)
	require.EqualError(t, err, `list temporal executions in "default": unavailable`)

	_, err = NewSource(Options{})
	require.EqualError(t, err, "temporal client is required")
}

func TestQuery(t *testing.T) {
	q, ok := Query([]workflow.Phase{workflow.PhaseSucceeded, workflow.PhaseFailed})
	require.True(t, ok)
	require.Equal(t, "ExecutionStatus = 'Completed' OR ExecutionStatus = 'ContinuedAsNew' OR "+
		"ExecutionStatus = 'Failed' OR ExecutionStatus = 'Canceled' OR ExecutionStatus = 'TimedOut'", q)

	_, ok = Query([]workflow.Phase{workflow.PhaseSkipped, workflow.PhaseOmitted})
	require.False(t, ok)
}

func TestPhaseOf(t *testing.T) {
	cases := map[enumspb.WorkflowExecutionStatus]workflow.Phase{
		enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:          workflow.PhaseRunning,
		enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:        workflow.PhaseSucceeded,
		enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW: workflow.PhaseSucceeded,
		enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:           workflow.PhaseFailed,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:         workflow.PhaseFailed,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:        workflow.PhaseFailed,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:       workflow.PhaseError,
		enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED:      workflow.PhasePending,
	}
	for status, phase := range cases {
		require.Equal(t, phase, PhaseOf(status), status.String())
	}
}

func TestDial(t *testing.T) {
	c, err := Dial(ClientOptions{HostPort: "localhost:7233", Namespace: "default"})
	require.NoError(t, err)
	c.Close()

	c, err = Dial(ClientOptions{
		HostPort:       "localhost:7233",
		DisableTracing: true,
		DisableMetrics: true,
		DialOptions:    []grpc.DialOption{grpc.WithUserAgent("wflive-test")},
	})
	require.NoError(t, err)
	c.Close()
}
