package forger

import "fmt"

// ForgeStatus is the outcome of one forging round.
type ForgeStatus int

// Set of forging outcomes.
const (
	ForgeNormal ForgeStatus = iota + 1
	NormalExit
	ForgePowerLessThanZero
	BalanceLessThanHistoryFee
	ForgeTaskInterruptedNotSynced
	BlockSyncProcessing
	ForgeTaskInterrupted
	PullPoolTxTimeout
	ForgeContinue
	ForgeInterruptedOrCanceled
	ExceptionDuringForging
)

var statusMsgs = map[ForgeStatus]string{
	ForgeNormal:                   "forging normal running",
	NormalExit:                    "forging normal exit",
	ForgePowerLessThanZero:        "forging power is not positive",
	BalanceLessThanHistoryFee:     "balance is less than the history fee",
	ForgeTaskInterruptedNotSynced: "forging interrupted, chain not synced",
	BlockSyncProcessing:           "block sync in progress",
	ForgeTaskInterrupted:          "forging interrupted",
	PullPoolTxTimeout:             "pull of the peers' pools timed out",
	ForgeContinue:                 "got a new best block, continue forging",
	ForgeInterruptedOrCanceled:    "forging interrupted or canceled",
	ExceptionDuringForging:        "error during forging",
}

// continues lists the outcomes after which the forger starts another round.
var continues = map[ForgeStatus]bool{
	ForgeNormal:         true,
	BlockSyncProcessing: true,
	PullPoolTxTimeout:   true,
	ForgeContinue:       true,
}

// Code returns the numeric code of the status.
func (s ForgeStatus) Code() int {
	return int(s)
}

// IsContinue reports whether forging goes on after this outcome.
func (s ForgeStatus) IsContinue() bool {
	return continues[s]
}

// String implements the fmt.Stringer interface.
func (s ForgeStatus) String() string {
	if m, exists := statusMsgs[s]; exists {
		return m
	}
	return fmt.Sprintf("status(%d)", int(s))
}
