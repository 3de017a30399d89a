package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	mongoc "goa.design/wflive/features/snapshot/mongo/clients/mongo"
	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/watch"
	"goa.design/wflive/runtime/workflow"
)

var (
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "mongo:7",
				ExposedPorts: []string{"27017/tcp"},
				WaitingFor:   wait.ForLog("Waiting for connections"),
			},
			Started: true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else if uri, err := mongoURI(ctx); err != nil {
		fmt.Printf("Failed to resolve mongo address: %v\n", err)
		skipIntegration = true
	} else {
		testMongoClient, err = mongodriver.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			fmt.Printf("Failed to connect to mongo: %v\n", err)
			skipIntegration = true
		}
	}

	code := m.Run()

	if testMongoClient != nil {
		_ = testMongoClient.Disconnect(ctx)
	}
	if testMongoContainer != nil {
		_ = testMongoContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func mongoURI(ctx context.Context) (string, error) {
	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port()), nil
}

func newIntegrationSource(t *testing.T) *Source {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	db := fmt.Sprintf("wflive_%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = testMongoClient.Database(db).Drop(context.Background()) })
	client, err := mongoc.New(mongoc.Options{Client: testMongoClient, Database: db})
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()))
	src, err := NewSource(client)
	require.NoError(t, err)
	return src
}

func TestSourceAgainstMongo(t *testing.T) {
	ctx := context.Background()
	src := newIntegrationSource(t)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"old", "mid", "new"} {
		require.NoError(t, src.Record(ctx, watch.Created(&workflow.Workflow{
			Key:             workflow.Key{Namespace: "argo", Name: name},
			UID:             "uid-" + name,
			ResourceVersion: "1",
			Phase:           workflow.PhaseRunning,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
			Labels:          map[string]string{"idx": fmt.Sprint(i)},
		})))
	}
	require.NoError(t, src.Record(ctx, watch.Modified(&workflow.Workflow{
		Key:             workflow.Key{Namespace: "argo", Name: "mid"},
		UID:             "uid-mid",
		ResourceVersion: "2",
		Phase:           workflow.PhaseSucceeded,
		CreatedAt:       base.Add(time.Minute),
	})))
	require.NoError(t, src.Record(ctx, watch.Deleted(workflow.Key{Namespace: "argo", Name: "old"}, "")))

	all, err := filter.New("argo")
	require.NoError(t, err)
	items, err := src.List(ctx, all)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "new", items[0].Name)
	require.Equal(t, "mid", items[1].Name)
	require.Equal(t, "2", items[1].ResourceVersion)
	require.Equal(t, "2", items[0].Labels["idx"])

	running, err := filter.New("argo", workflow.PhaseRunning)
	require.NoError(t, err)
	items, err = src.List(ctx, running)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "new", items[0].Name)
}
