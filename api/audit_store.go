package api

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var auditBucket = []byte("audit")

// auditEntry is the persisted form of one audit event. The same shape is
// posted to the audit webhook.
type auditEntry struct {
	ID        string            `json:"id"`
	Event     AuditEvent        `json:"event"`
	Subject   string            `json:"subject,omitempty"`
	RemoteIP  string            `json:"remote_ip,omitempty"`
	CreatedAt string            `json:"created_at"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// auditStore keeps audit entries in bbolt, keyed by insertion sequence so a
// reverse cursor walks them newest first. The database handle is shared with
// the identity and session stores; the audit store never closes it.
type auditStore struct {
	db *bbolt.DB
}

func newAuditStore(db *bbolt.DB) *auditStore {
	return &auditStore{db: db}
}

func (s *auditStore) append(entry auditEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(auditBucket)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), buf)
	})
}

// list returns up to limit entries, newest first, skipping offset newer
// entries, plus the total count for pagination.
func (s *auditStore) list(limit, offset int) ([]auditEntry, int, error) {
	var (
		entries []auditEntry
		total   int
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(auditBucket)
		if b == nil {
			return nil
		}
		total = b.Stats().KeyN
		c := b.Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			var e auditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding audit entry: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
