package params

// Canonical parameter store keys. Governance writes these; the node reloads
// the affected engine when one changes.
const (
	// KeyPauses stores the module pause configuration.
	KeyPauses = "system/pauses"
	// KeyPSM stores the peg stability module settings.
	KeyPSM = "psm/settings"
	// KeyTreasury stores the collateral vault risk parameters.
	KeyTreasury = "treasury/params"
	// KeyOracle stores the oracle freshness and deviation settings.
	KeyOracle = "oracle/settings"
	// KeyAccrual stores the yield accrual schedule.
	KeyAccrual = "ledger/accrual"
)
