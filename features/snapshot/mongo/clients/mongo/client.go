// Package mongo hosts the MongoDB client backing the workflow snapshot
// source.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/wflive/runtime/workflow"
)

const (
	defaultWorkflowsCollection = "workflows"
	defaultOpTimeout           = 5 * time.Second
	workflowClientName         = "workflow-mongo"
)

type (
	// Client exposes Mongo-backed operations on workflow documents.
	Client interface {
		health.Pinger

		// ListWorkflows returns the workflows matching q, newest first.
		ListWorkflows(ctx context.Context, q Query) ([]*workflow.Workflow, error)
		// UpsertWorkflow inserts or replaces the document of wf.
		UpsertWorkflow(ctx context.Context, wf *workflow.Workflow) error
		// DeleteWorkflow removes the document with key and reports whether
		// it existed.
		DeleteWorkflow(ctx context.Context, key workflow.Key) (bool, error)
	}

	// Query selects workflow documents.
	Query struct {
		// Namespace is required.
		Namespace string
		// Phases restricts the result to the given phases. Empty means all.
		Phases []workflow.Phase
		// Limit bounds the number of documents returned. Zero means no
		// limit.
		Limit int64
	}

	// Options configures the Mongo workflow client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	workflowDocument struct {
		Namespace       string            `bson:"namespace"`
		Name            string            `bson:"name"`
		UID             string            `bson:"uid,omitempty"`
		ResourceVersion string            `bson:"resource_version"`
		Phase           string            `bson:"phase"`
		CreatedAt       time.Time         `bson:"created_at"`
		Labels          map[string]string `bson:"labels,omitempty"`
	}
)

// New returns a Client backed by MongoDB. It ensures the unique
// (namespace, name) index exists.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultWorkflowsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, fmt.Errorf("ensure workflow indexes: %w", err)
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return workflowClientName
}

func (c *client) Ping(ctx context.Context) error {
	if c.mongo == nil {
		return errors.New("mongo client is not configured")
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) ListWorkflows(ctx context.Context, q Query) ([]*workflow.Workflow, error) {
	if q.Namespace == "" {
		return nil, errors.New("namespace is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"namespace": q.Namespace}
	if len(q.Phases) > 0 {
		phases := make([]string, len(q.Phases))
		for i, p := range q.Phases {
			phases[i] = string(p)
		}
		filter["phase"] = bson.M{"$in": phases}
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "name", Value: 1},
	})
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*workflow.Workflow
	for cur.Next(ctx) {
		var doc workflowDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode workflow document: %w", err)
		}
		out = append(out, doc.toWorkflow())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) UpsertWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if wf == nil || wf.Key.IsZero() {
		return errors.New("workflow namespace and name are required")
	}
	if wf.ResourceVersion == "" {
		return errors.New("workflow resource version is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	doc := fromWorkflow(wf)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := c.coll.UpdateOne(ctx, keyFilter(wf.Key), bson.M{"$set": doc}, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) DeleteWorkflow(ctx context.Context, key workflow.Key) (bool, error) {
	if key.IsZero() {
		return false, errors.New("workflow namespace and name are required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.coll.DeleteOne(ctx, keyFilter(key))
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func keyFilter(key workflow.Key) bson.M {
	return bson.M{"namespace": key.Namespace, "name": key.Name}
}

func fromWorkflow(wf *workflow.Workflow) workflowDocument {
	return workflowDocument{
		Namespace:       wf.Namespace,
		Name:            wf.Name,
		UID:             wf.UID,
		ResourceVersion: wf.ResourceVersion,
		Phase:           string(wf.Phase),
		CreatedAt:       wf.CreatedAt.UTC(),
		Labels:          cloneLabels(wf.Labels),
	}
}

func (doc workflowDocument) toWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Key:             workflow.Key{Namespace: doc.Namespace, Name: doc.Name},
		UID:             doc.UID,
		ResourceVersion: doc.ResourceVersion,
		Phase:           workflow.Phase(doc.Phase),
		CreatedAt:       doc.CreatedAt,
		Labels:          cloneLabels(doc.Labels),
	}
}

func cloneLabels(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func ensureIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "namespace", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{mongo: mongoClient, coll: coll, timeout: timeout}, nil
}
