package psm

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"hydchain/crypto"
)

// Storage abstracts the subset of state manager functionality required by the
// receipt ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	receiptRecordPrefix = []byte("psm/receipt/")
	receiptIndexKey     = []byte("psm/receipt/index")
)

var (
	ErrReceiptNotFound = errors.New("psm: receipt not found")
	ErrInvalidCursor   = errors.New("psm: unknown receipt cursor")
)

// Receipt captures the metadata stored for every swap the module executes.
type Receipt struct {
	ID           string
	Direction    string
	Account      crypto.Address
	StableAmount *big.Int
	HydAmount    *big.Int
	Fee          *big.Int
	Timestamp    int64
}

// storedReceipt mirrors Receipt with RLP-friendly field types.
type storedReceipt struct {
	ID           string
	Direction    string
	Account      []byte
	StableAmount string
	HydAmount    string
	Fee          string
	Timestamp    uint64
}

func (r *Receipt) toStored() *storedReceipt {
	amount := func(v *big.Int) string {
		if v == nil {
			return "0"
		}
		return v.String()
	}
	return &storedReceipt{
		ID:           r.ID,
		Direction:    r.Direction,
		Account:      append([]byte(nil), r.Account.Bytes()...),
		StableAmount: amount(r.StableAmount),
		HydAmount:    amount(r.HydAmount),
		Fee:          amount(r.Fee),
		Timestamp:    uint64(r.Timestamp),
	}
}

func (s *storedReceipt) toReceipt() (*Receipt, error) {
	parse := func(field, v string) (*big.Int, error) {
		parsed, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("psm: corrupted receipt %s field %s", s.ID, field)
		}
		return parsed, nil
	}
	stable, err := parse("stable", s.StableAmount)
	if err != nil {
		return nil, err
	}
	hyd, err := parse("hyd", s.HydAmount)
	if err != nil {
		return nil, err
	}
	fee, err := parse("fee", s.Fee)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		ID:           s.ID,
		Direction:    s.Direction,
		Account:      crypto.NewAddress(crypto.HYDPrefix, s.Account),
		StableAmount: stable,
		HydAmount:    hyd,
		Fee:          fee,
		Timestamp:    int64(s.Timestamp),
	}, nil
}

// ReceiptLedger is an append-only record of executed swaps backed by the
// state manager's generic KV surface. Receipts are immutable once recorded;
// the index preserves insertion order for cursor pagination.
type ReceiptLedger struct {
	store Storage
}

// NewReceiptLedger wraps the provided storage backend.
func NewReceiptLedger(store Storage) *ReceiptLedger {
	return &ReceiptLedger{store: store}
}

func receiptKey(id string) []byte {
	return append(append([]byte(nil), receiptRecordPrefix...), id...)
}

// Record persists the swap result as a receipt, assigning a fresh UUID, and
// returns the stored receipt.
func (l *ReceiptLedger) Record(result *SwapResult) (*Receipt, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("psm: receipt ledger not configured")
	}
	if result == nil {
		return nil, errors.New("psm: nil swap result")
	}
	receipt := &Receipt{
		ID:           uuid.New().String(),
		Direction:    result.Direction,
		Account:      result.Account,
		StableAmount: result.StableAmount,
		HydAmount:    result.HydAmount,
		Fee:          result.Fee,
		Timestamp:    result.Timestamp.Unix(),
	}
	if err := l.store.KVPut(receiptKey(receipt.ID), receipt.toStored()); err != nil {
		return nil, err
	}
	if err := l.store.KVAppend(receiptIndexKey, []byte(receipt.ID)); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Get loads one receipt by id.
func (l *ReceiptLedger) Get(id string) (*Receipt, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("psm: receipt ledger not configured")
	}
	var stored storedReceipt
	ok, err := l.store.KVGet(receiptKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return stored.toReceipt()
}

// List returns up to limit receipts in insertion order, starting after the
// cursor id. An empty cursor starts from the beginning; the returned cursor
// is empty once the index is exhausted.
func (l *ReceiptLedger) List(cursor string, limit int) ([]*Receipt, string, error) {
	if l == nil || l.store == nil {
		return nil, "", errors.New("psm: receipt ledger not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	var ids [][]byte
	if err := l.store.KVGetList(receiptIndexKey, &ids); err != nil {
		return nil, "", err
	}
	start := 0
	if cursor != "" {
		found := false
		for i, id := range ids {
			if string(id) == cursor {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, "", ErrInvalidCursor
		}
	}
	receipts := make([]*Receipt, 0, limit)
	next := ""
	for i := start; i < len(ids) && len(receipts) < limit; i++ {
		receipt, err := l.Get(string(ids[i]))
		if err != nil {
			return nil, "", err
		}
		receipts = append(receipts, receipt)
		if i+1 < len(ids) && len(receipts) == limit {
			next = receipt.ID
		}
	}
	return receipts, next, nil
}

// ExportCSV renders a page of receipts as CSV alongside a SHA-256 checksum of
// the payload and the pagination cursor for the next page.
func (l *ReceiptLedger) ExportCSV(cursor string, limit int) ([]byte, string, string, error) {
	receipts, next, err := l.List(cursor, limit)
	if err != nil {
		return nil, "", "", err
	}
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"id", "direction", "account", "stable_amount", "hyd_amount", "fee", "executed_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", "", err
	}
	for _, receipt := range receipts {
		record := []string{
			receipt.ID,
			receipt.Direction,
			receipt.Account.String(),
			receipt.StableAmount.String(),
			receipt.HydAmount.String(),
			receipt.Fee.String(),
			time.Unix(receipt.Timestamp, 0).UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), next, nil
}

// Count reports the number of recorded receipts.
func (l *ReceiptLedger) Count() (int, error) {
	if l == nil || l.store == nil {
		return 0, errors.New("psm: receipt ledger not configured")
	}
	var ids [][]byte
	if err := l.store.KVGetList(receiptIndexKey, &ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}
