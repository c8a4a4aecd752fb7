package persistence

import (
	"encoding/json"
	"fmt"

	"ShieldVault/internal/action"
)

// DecodeReplayAction turns a stored action row back into the typed action
// for recovery replay. Payloads are the JSON encoding of the typed action
// structs written by the core.
func DecodeReplayAction(row ActionRow) (action.Action, error) {
	switch row.ActionType {
	case action.TypeInitialize.String():
		var a action.Initialize
		if err := json.Unmarshal(row.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode Initialize seq=%d: %w", row.Sequence, err)
		}
		return &a, nil
	case action.TypeDeposit.String():
		var a action.Deposit
		if err := json.Unmarshal(row.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode Deposit seq=%d: %w", row.Sequence, err)
		}
		return &a, nil
	case action.TypeWithdraw.String():
		var a action.Withdraw
		if err := json.Unmarshal(row.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode Withdraw seq=%d: %w", row.Sequence, err)
		}
		return &a, nil
	case action.TypeLend.String():
		var a action.Lend
		if err := json.Unmarshal(row.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode Lend seq=%d: %w", row.Sequence, err)
		}
		return &a, nil
	case action.TypeSwap.String():
		var a action.Swap
		if err := json.Unmarshal(row.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode Swap seq=%d: %w", row.Sequence, err)
		}
		return &a, nil
	case action.TypeBridge.String():
		var a action.Bridge
		if err := json.Unmarshal(row.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode Bridge seq=%d: %w", row.Sequence, err)
		}
		return &a, nil
	case action.TypeCompliance.String():
		var a action.Compliance
		if err := json.Unmarshal(row.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode Compliance seq=%d: %w", row.Sequence, err)
		}
		return &a, nil
	case action.TypeAdminControl.String():
		var a action.AdminControl
		if err := json.Unmarshal(row.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode AdminControl seq=%d: %w", row.Sequence, err)
		}
		return &a, nil
	default:
		return nil, fmt.Errorf("unknown stored action type %q at seq=%d", row.ActionType, row.Sequence)
	}
}
