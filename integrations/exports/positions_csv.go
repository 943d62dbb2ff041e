package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"hydchain/core"
	"hydchain/native/treasury"
)

// PositionEntry pairs a vault position with the health factor computed at
// export time. A nil health factor renders empty; the zero-debt sentinel
// renders as "unbounded".
type PositionEntry struct {
	Position        *treasury.Position
	HealthFactorBps *big.Int
}

func amountField(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func healthField(hf *big.Int) string {
	if hf == nil {
		return ""
	}
	if hf.Cmp(treasury.UnboundedHealthFactor) == 0 {
		return "unbounded"
	}
	return hf.String()
}

// PositionsCSV builds a CSV export for the supplied position entries and
// returns the serialised data alongside a SHA-256 checksum of the payload.
func PositionsCSV(entries []PositionEntry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"position_id", "owner", "asset", "tier", "collateral", "debt", "value_at_mint", "health_factor_bps", "status", "created_at", "last_action"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, entry := range entries {
		position := entry.Position
		if position == nil {
			continue
		}
		record := []string{
			position.ID,
			position.Owner.String(),
			position.Asset,
			fmt.Sprintf("%d", position.Tier),
			amountField(position.Collateral),
			amountField(position.Debt),
			amountField(position.ValueAtMint),
			healthField(entry.HealthFactorBps),
			string(position.Status),
			time.Unix(position.CreatedAt, 0).UTC().Format(time.RFC3339),
			time.Unix(position.LastAction, 0).UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

// HoldersCSV builds a CSV export of every account's share holding and derived
// balance, with a SHA-256 checksum of the payload.
func HoldersCSV(holders []core.Holder) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"address", "shares", "balance"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, holder := range holders {
		record := []string{
			holder.Address.String(),
			amountField(holder.Shares),
			amountField(holder.Balance),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
