package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaAmountExceeded   = errors.New("quota amount cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address within one
// epoch window.
type QuotaNow struct {
	ReqCount   uint32
	AmountUsed uint64
	EpochID    uint64
}

// Quota defines the per-address velocity limits enforced for a module
// interaction: a request count per epoch and an aggregate amount cap. Amounts
// are expressed in whole tokens so the counters fit uint64.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxAmountPerEpoch   uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxAmountPerEpoch > 0
}

// CheckQuota verifies whether the additional request and amount usage fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded; on rejection the previous counters
// are returned untouched.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addAmount uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addAmount > 0 {
		if next.AmountUsed > math.MaxUint64-addAmount {
			return prev, ErrQuotaCounterOverflow
		}
		next.AmountUsed += addAmount
	}
	if q.MaxAmountPerEpoch > 0 && next.AmountUsed > q.MaxAmountPerEpoch {
		return prev, ErrQuotaAmountExceeded
	}

	return next, nil
}

// EpochForTimestamp maps a unix timestamp onto the quota epoch counter.
func EpochForTimestamp(q Quota, unix int64) uint64 {
	if q.EpochSeconds == 0 || unix <= 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}
