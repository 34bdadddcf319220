package monitor

import (
	"sort"
	"time"

	"github.com/adred-codev/fleetwatch/internal/config"
)

// ServerTable holds one record per subscribed server, indexed by URL.
// Construction happens once at startup; after that only the response
// processor goroutine touches the records.
type ServerTable struct {
	records []*ServerRecord
	byURL   map[string]*ServerRecord
}

// NewServerTable builds records from the fleet file, assigning stable IDs in
// file order.
func NewServerTable(servers []config.ServerConfig) *ServerTable {
	t := &ServerTable{
		records: make([]*ServerRecord, 0, len(servers)),
		byURL:   make(map[string]*ServerRecord, len(servers)),
	}
	for i, s := range servers {
		rec := &ServerRecord{
			ID:            i,
			URL:           s.URL,
			ServerName:    s.ServerName,
			SSLVerify:     s.SSLVerify,
			Notifications: s.Notifications,
			TimeUpdated:   time.Now().UTC(),
		}
		t.records = append(t.records, rec)
		t.byURL[s.URL] = rec
	}
	return t
}

// ByURL returns the record for a subscription URL, or nil for an unknown URL.
func (t *ServerTable) ByURL(url string) *ServerRecord { return t.byURL[url] }

// All returns the live records in ID order. Callers outside the processor
// goroutine must use Snapshot instead.
func (t *ServerTable) All() []*ServerRecord { return t.records }

func (t *ServerTable) Len() int { return len(t.records) }

// Snapshot deep-copies every record, sorted by ID.
func (t *ServerTable) Snapshot() []*ServerRecord {
	out := make([]*ServerRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidatorTable holds one record per tracked validator. Identity is by
// master key or ephemeral validation key; Find matches either.
type ValidatorTable struct {
	records []*ValidatorRecord
	nextID  int
}

func NewValidatorTable(validators []config.ValidatorConfig) *ValidatorTable {
	t := &ValidatorTable{records: make([]*ValidatorRecord, 0, len(validators))}
	for _, v := range validators {
		rec := &ValidatorRecord{
			ID:            t.nextID,
			ServerName:    v.ServerName,
			Notifications: v.Notifications,
			TimeUpdated:   time.Now().UTC(),
		}
		if v.MasterKey != "" {
			mk := v.MasterKey
			rec.MasterKey = &mk
		}
		if v.ValidationPublicKey != "" {
			vk := v.ValidationPublicKey
			rec.ValidationPublicKey = &vk
		}
		t.nextID++
		t.records = append(t.records, rec)
	}
	return t
}

// Find returns the first record whose master key or validation public key
// matches either provided key. Empty keys never match.
func (t *ValidatorTable) Find(masterKey, validationKey string) *ValidatorRecord {
	for _, r := range t.records {
		if masterKey != "" && r.MasterKey != nil && *r.MasterKey == masterKey {
			return r
		}
		if validationKey != "" && r.ValidationPublicKey != nil && *r.ValidationPublicKey == validationKey {
			return r
		}
	}
	return nil
}

func (t *ValidatorTable) All() []*ValidatorRecord { return t.records }

func (t *ValidatorTable) Len() int { return len(t.records) }

// Snapshot deep-copies every record, sorted by ID.
func (t *ValidatorTable) Snapshot() []*ValidatorRecord {
	out := make([]*ValidatorRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Keys returns the set of all known master and validation public keys. The
// processor uses this to gate validation messages to tracked validators.
func (t *ValidatorTable) Keys() map[string]bool {
	keys := make(map[string]bool, len(t.records)*2)
	for _, r := range t.records {
		if r.MasterKey != nil {
			keys[*r.MasterKey] = true
		}
		if r.ValidationPublicKey != nil {
			keys[*r.ValidationPublicKey] = true
		}
	}
	return keys
}

// CullDuplicates removes records that share a master key with an earlier
// record, keeping the first occurrence. Records without a master key are
// never removed. Returns the number of records dropped.
func (t *ValidatorTable) CullDuplicates() int {
	seen := make(map[string]bool, len(t.records))
	kept := t.records[:0]
	dropped := 0
	for _, r := range t.records {
		if r.MasterKey != nil {
			if seen[*r.MasterKey] {
				dropped++
				continue
			}
			seen[*r.MasterKey] = true
		}
		kept = append(kept, r)
	}
	t.records = kept
	return dropped
}
