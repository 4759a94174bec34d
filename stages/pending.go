package stages

import (
	"github.com/creastat/collate/core"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// pendingTable maps a correlation key to the single record held for it.
// Keys keep the order in which their streams first held a record.
type pendingTable struct {
	entries *orderedmap.OrderedMap[string, *core.Record]
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: orderedmap.New[string, *core.Record](),
	}
}

func (p *pendingTable) get(key string) (*core.Record, bool) {
	return p.entries.Get(key)
}

// hold stores record for key and returns the record it replaced, if any
func (p *pendingTable) hold(key string, record *core.Record) (*core.Record, bool) {
	return p.entries.Set(key, record)
}

func (p *pendingTable) len() int {
	return p.entries.Len()
}

func (p *pendingTable) keys() []string {
	keys := make([]string, 0, p.entries.Len())
	for pair := p.entries.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// drain releases every held record and empties the table
func (p *pendingTable) drain() []*core.Record {
	records := make([]*core.Record, 0, p.entries.Len())
	for pair := p.entries.Oldest(); pair != nil; pair = pair.Next() {
		records = append(records, pair.Value)
	}
	p.entries = orderedmap.New[string, *core.Record]()
	return records
}
