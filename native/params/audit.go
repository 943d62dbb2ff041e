package params

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"
)

var (
	bucketAuditRecords = []byte("audit")
	bucketAuditMeta    = []byte("audit-meta")
	metaHeadDigest     = []byte("head")

	// ErrAuditChainBroken is returned by Verify when a stored record does not
	// hash to the digest the next record claims as its predecessor.
	ErrAuditChainBroken = errors.New("params: audit chain broken")
)

// AuditRecord is one persisted parameter mutation. Digest covers the record
// contents plus the previous record's digest, so the log forms a hash chain
// that Verify can replay end to end.
type AuditRecord struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	Old        string `json:"old,omitempty"`
	New        string `json:"new"`
	Actor      string `json:"actor"`
	Timestamp  int64  `json:"timestamp"`
	PrevDigest string `json:"prevDigest,omitempty"`
	Digest     string `json:"digest"`
}

func (r *AuditRecord) digest() string {
	h := blake3.New(32, nil)
	h.Write([]byte(r.PrevDigest))
	h.Write([]byte(r.ID))
	h.Write([]byte(r.Key))
	h.Write([]byte(r.Old))
	h.Write([]byte(r.New))
	h.Write([]byte(r.Actor))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(r.Timestamp))
	h.Write(ts[:])
	return hex.EncodeToString(h.Sum(nil))
}

// AuditLog is an append-only, hash-chained record of parameter mutations
// backed by a Bolt database separate from consensus state.
type AuditLog struct {
	db    *bolt.DB
	clock func() time.Time
}

// OpenAuditLog initialises (and migrates) the Bolt-backed audit log at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAuditRecords, bucketAuditMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &AuditLog{db: db, clock: time.Now}, nil
}

// Close releases the underlying database handle.
func (l *AuditLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// SetClock overrides the time source. Test hook.
func (l *AuditLog) SetClock(clock func() time.Time) {
	if l == nil || clock == nil {
		return
	}
	l.clock = clock
}

// Append records one mutation of key from previous to next by actor, linking
// it to the previous head of the chain.
func (l *AuditLog) Append(key string, previous, next []byte, actor string) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("params: audit log not open")
	}
	if key == "" {
		return fmt.Errorf("params: audit key required")
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketAuditRecords)
		meta := tx.Bucket(bucketAuditMeta)

		record := AuditRecord{
			ID:         uuid.New().String(),
			Key:        key,
			Old:        string(previous),
			New:        string(next),
			Actor:      actor,
			Timestamp:  l.clock().Unix(),
			PrevDigest: string(meta.Get(metaHeadDigest)),
		}
		record.Digest = record.digest()

		seq, err := records.NextSequence()
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], seq)
		if err := records.Put(seqKey[:], encoded); err != nil {
			return err
		}
		return meta.Put(metaHeadDigest, []byte(record.Digest))
	})
}

// Records returns every audit record in append order.
func (l *AuditLog) Records() ([]AuditRecord, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("params: audit log not open")
	}
	var records []AuditRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAuditRecords).ForEach(func(_, raw []byte) error {
			var record AuditRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Verify replays the hash chain and reports the first break, if any. An empty
// log verifies trivially.
func (l *AuditLog) Verify() error {
	records, err := l.Records()
	if err != nil {
		return err
	}
	prev := ""
	for i := range records {
		record := records[i]
		if record.PrevDigest != prev {
			return fmt.Errorf("%w: record %d prev digest mismatch", ErrAuditChainBroken, i)
		}
		if record.digest() != record.Digest {
			return fmt.Errorf("%w: record %d digest mismatch", ErrAuditChainBroken, i)
		}
		prev = record.Digest
	}
	return nil
}
