package events

import (
	"strconv"

	"hydchain/core/types"
)

const (
	// TypeOracleDeviationAlert is emitted when a quote moves past the alert
	// band but is still accepted.
	TypeOracleDeviationAlert = "oracle.deviation_alert"
	// TypeOracleDeviationPause is emitted when the deviation latch trips and
	// deposits for the asset pause.
	TypeOracleDeviationPause = "oracle.deviation_pause"
	// TypeParamsUpdated is emitted when governance writes a parameter key.
	TypeParamsUpdated = "params.updated"
)

type OracleDeviation struct {
	Asset        string
	DeviationBps uint64
	Source       string
	Paused       bool
}

func (e OracleDeviation) EventType() string {
	if e.Paused {
		return TypeOracleDeviationPause
	}
	return TypeOracleDeviationAlert
}

func (e OracleDeviation) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"asset":        normalizeAsset(e.Asset),
			"deviationBps": strconv.FormatUint(e.DeviationBps, 10),
			"source":       e.Source,
		},
	}
}

type ParamsUpdated struct {
	Key   string
	Actor string
}

func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeParamsUpdated,
		Attributes: map[string]string{
			"key":   e.Key,
			"actor": e.Actor,
		},
	}
}
