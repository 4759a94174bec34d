package stages

import (
	"fmt"
	"reflect"

	"github.com/creastat/collate/core"
	"github.com/creastat/infra/telemetry"
)

const (
	// DefaultStreamIdentity separates records by origin host, file and type
	DefaultStreamIdentity = "%{host}.%{path}.%{type}"

	// DefaultCorrelateTag marks records that went through the correlator
	DefaultCorrelateTag = "correlated"
)

// CorrelatorConfig holds correlator configuration
type CorrelatorConfig struct {
	// UniqueField decides whether a record continues the pending group
	UniqueField string
	// Target receives the array of subdocuments on the surviving record
	Target string
	// Fields are copied from every record into its subdocument
	Fields []string
	// StreamIdentity is formatted per record to get the correlation key
	StreamIdentity string
	// Tag is added to every correlated record
	Tag string
	// Type restricts correlation to records whose type field equals it.
	// Other records pass through untouched. Empty means all records.
	Type   string
	Logger telemetry.Logger
}

// ConfigError reports a missing or invalid configuration option
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid correlator option %q: %s", e.Option, e.Reason)
}

// Validate checks the required options
func (c CorrelatorConfig) Validate() error {
	if c.UniqueField == "" {
		return &ConfigError{Option: "unique_field", Reason: "required"}
	}
	if c.Target == "" {
		return &ConfigError{Option: "target", Reason: "required"}
	}
	if len(c.Fields) == 0 {
		return &ConfigError{Option: "fields", Reason: "required"}
	}
	return nil
}

// Correlator collapses consecutive records of one stream that share a unique
// field value into the first record of the group. It holds at most one record
// per stream and releases it when a record for a new group arrives, or at the
// final flush.
//
// A Correlator is not safe for concurrent use; partition by stream identity
// and give each partition its own Correlator instead.
type Correlator struct {
	config  CorrelatorConfig
	pending *pendingTable
	logger  telemetry.Logger
}

// NewCorrelator creates a correlator, rejecting incomplete configuration
func NewCorrelator(config CorrelatorConfig) (*Correlator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.StreamIdentity == "" {
		config.StreamIdentity = DefaultStreamIdentity
	}
	if config.Tag == "" {
		config.Tag = DefaultCorrelateTag
	}
	config.Fields = append([]string(nil), config.Fields...)

	return &Correlator{
		config:  config,
		pending: newPendingTable(),
		logger:  config.Logger.WithModule("correlate"),
	}, nil
}

// Key returns the correlation key of record
func (c *Correlator) Key(record *core.Record) string {
	return core.Sprintf(c.config.StreamIdentity, record)
}

// Filter implements core.Filter
func (c *Correlator) Filter(record *core.Record) []*core.Record {
	if c.config.Type != "" {
		if recordType, ok := record.Get("type"); !ok || recordType != c.config.Type {
			return []*core.Record{record}
		}
	}

	record.Tag(c.config.Tag)
	correlatedTotal.Inc()
	key := c.Key(record)
	pending, holding := c.pending.get(key)

	unique, present := record.Lookup(c.config.UniqueField)
	match := holding && c.continues(pending, unique, present)
	c.logger.Debug("correlating record",
		telemetry.String("stream", key),
		telemetry.String(c.config.UniqueField, core.FormatValue(unique)),
		telemetry.Bool("match", match))

	subdocument := Project(record, c.config.Fields)

	if match {
		c.appendSubdocument(pending, subdocument)
		mergedTotal.Inc()
		return nil
	}

	record.Set(c.config.Target, []any{map[string]any(subdocument)})
	previous, replaced := c.pending.hold(key, record)
	if replaced {
		releasedTotal.WithLabelValues(releaseReplaced).Inc()
		return []*core.Record{previous}
	}
	pendingStreams.Inc()
	return nil
}

// continues reports whether a record with the given unique value belongs to
// the group held in pending. A blank value always continues the group.
func (c *Correlator) continues(pending *core.Record, unique any, present bool) bool {
	if core.IsBlank(unique, present) {
		return true
	}
	held, ok := pending.Lookup(c.config.UniqueField)
	if !ok {
		return false
	}
	return reflect.DeepEqual(held, unique)
}

func (c *Correlator) appendSubdocument(pending *core.Record, subdocument Subdocument) {
	entry := map[string]any(subdocument)
	switch existing := fieldValue(pending, c.config.Target).(type) {
	case []any:
		pending.Set(c.config.Target, append(existing, entry))
	case nil:
		pending.Set(c.config.Target, []any{entry})
	default:
		pending.Set(c.config.Target, []any{existing, entry})
	}
}

// Flush implements core.Filter. Periodic flushes never release anything;
// the final flush releases every held record in stream order.
func (c *Correlator) Flush(final bool) []*core.Record {
	if !final {
		c.logger.Debug("periodic flush", telemetry.Int("pending", c.pending.len()))
		return nil
	}

	records := c.pending.drain()
	releasedTotal.WithLabelValues(releaseFlush).Add(float64(len(records)))
	pendingStreams.Sub(float64(len(records)))
	c.logger.Info("final flush", telemetry.Int("released", len(records)))
	return records
}

// Threadsafe implements core.Filter
func (c *Correlator) Threadsafe() bool {
	return false
}

// Pending returns the number of streams holding a record
func (c *Correlator) Pending() int {
	return c.pending.len()
}

// PendingKeys returns the correlation keys currently holding a record
func (c *Correlator) PendingKeys() []string {
	return c.pending.keys()
}

func fieldValue(record *core.Record, field string) any {
	value, _ := record.Get(field)
	return value
}
