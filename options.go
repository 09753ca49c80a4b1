package parquedb

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/parquedb/parquedb/internal/relationship"
)

// Option configures [Open]. The zero value of every knob is a disabled
// logger and no extra link schemas, matching the teacher's own
// functional-options pattern in pkg/mddb.
type Option func(*openConfig)

type openConfig struct {
	log        zerolog.Logger
	httpClient *http.Client
	links      []relationship.LinkSchema
	iceberg    string // non-empty selects the Iceberg entity layout, naming the catalog db
}

func defaultOpenConfig() openConfig {
	return openConfig{
		log:        zerolog.Nop(),
		httpClient: http.DefaultClient,
	}
}

// WithLogger sets the [zerolog.Logger] that [Open] hands to the object
// store and that [Open] and [DB.Close] write their debug lines to. The
// event writer, entity backend and background subsystems do not receive
// it. The default is a disabled logger, so Open is silent unless a caller
// opts in.
func WithLogger(log zerolog.Logger) Option {
	return func(c *openConfig) { c.log = log }
}

// WithHTTPClient overrides the client used for a "remote" storage.type
// object store. Ignored for "local" storage.
func WithHTTPClient(client *http.Client) Option {
	return func(c *openConfig) { c.httpClient = client }
}

// WithLinkSchema registers a relationship link so [Collection.Create] and
// [Collection.Update] maintain its reverse index automatically.
func WithLinkSchema(schema relationship.LinkSchema) Option {
	return func(c *openConfig) { c.links = append(c.links, schema) }
}

// WithIcebergLayout selects the Iceberg-compatible entity storage layout
// (spec.md §4.4) under the given catalog database name, instead of the
// default native layout.
func WithIcebergLayout(db string) Option {
	return func(c *openConfig) { c.iceberg = db }
}
