package watch

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/wflive/runtime/workflow"
)

type (
	// envelope is the JSON wire form of an Event.
	envelope struct {
		Type            string     `json:"type"`
		Namespace       string     `json:"namespace"`
		Name            string     `json:"name"`
		ResourceVersion string     `json:"resource_version,omitempty"`
		Object          *objectDoc `json:"object,omitempty"`
	}

	// objectDoc is the JSON wire form of a workflow revision.
	objectDoc struct {
		Namespace       string            `json:"namespace"`
		Name            string            `json:"name"`
		UID             string            `json:"uid,omitempty"`
		ResourceVersion string            `json:"resource_version"`
		Phase           string            `json:"phase,omitempty"`
		CreatedAt       time.Time         `json:"created_at"`
		Labels          map[string]string `json:"labels,omitempty"`
	}
)

//go:embed event.schema.json
var envelopeSchema []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal event schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("event.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add event schema resource: %w", err)
	}
	return c.Compile("event.schema.json")
})

// Marshal encodes e as a JSON envelope. Invalid events are rejected with an
// *IntegrityError so that producers never publish what consumers would drop.
func Marshal(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	env := envelope{
		Type:            string(e.Type),
		Namespace:       e.Key.Namespace,
		Name:            e.Key.Name,
		ResourceVersion: e.ResourceVersion,
	}
	if o := e.Object; o != nil {
		env.Object = &objectDoc{
			Namespace:       o.Namespace,
			Name:            o.Name,
			UID:             o.UID,
			ResourceVersion: o.ResourceVersion,
			Phase:           string(o.Phase),
			CreatedAt:       o.CreatedAt.UTC(),
			Labels:          o.Labels,
		}
	}
	return json.Marshal(env)
}

// Unmarshal decodes a JSON envelope into an Event. The payload is validated
// against the envelope schema and the resulting event against Event.Validate.
// Any failure is reported as an *IntegrityError.
func Unmarshal(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, &IntegrityError{Reason: "malformed envelope", Err: err}
	}
	key := workflow.Key{Namespace: env.Namespace, Name: env.Name}
	schema, err := compiledSchema()
	if err != nil {
		return Event{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return Event{}, &IntegrityError{Key: key, Reason: "malformed envelope", Err: err}
	}
	if err := schema.Validate(inst); err != nil {
		return Event{}, &IntegrityError{Key: key, Reason: "envelope does not match schema", Err: err}
	}
	t := EventType(env.Type)
	if t == eventAdded {
		t = EventCreated
	}
	evt := Event{Type: t, Key: key, ResourceVersion: env.ResourceVersion}
	if o := env.Object; o != nil {
		evt.Object = &workflow.Workflow{
			Key:             workflow.Key{Namespace: o.Namespace, Name: o.Name},
			UID:             o.UID,
			ResourceVersion: o.ResourceVersion,
			Phase:           workflow.Phase(o.Phase),
			CreatedAt:       o.CreatedAt,
			Labels:          o.Labels,
		}
	}
	if err := evt.Validate(); err != nil {
		return Event{}, err
	}
	return evt, nil
}
