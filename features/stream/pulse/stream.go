// Package pulse carries workflow change events over Pulse streams backed by
// Redis. Publishers append JSON envelopes to one stream per namespace and
// subscribers implement livelist.ChangeStream on top of Pulse sinks.
package pulse

// DefaultStreamPrefix prefixes the per-namespace stream names.
const DefaultStreamPrefix = "workflows"

// StreamName returns the name of the stream carrying the events of
// namespace.
func StreamName(prefix, namespace string) string {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return prefix + "/" + namespace
}
