/*
legs.go - Canonical leg construction for the three source record kinds

PURPOSE:
  Source records (issues, consumptions, returns) map onto the closed
  event set here. The live service and the replay classifier both build
  legs through these constructors, so a return always yields the same
  leg pair no matter which path produced it.
*/
package ledger

import "fmt"

// =============================================================================
// RETURN MODES
// =============================================================================

type ReturnMode string

const (
	// ReturnUserToOffice moves stock back from an individual to an
	// office: two legs, applied as one atomic unit.
	ReturnUserToOffice ReturnMode = "USER_TO_OFFICE"

	// ReturnOfficeToStoreLot moves stock from an office back to a store
	// lot: one OUT leg. Store-side inbound accounting is a separate
	// concern and is not modeled here.
	ReturnOfficeToStoreLot ReturnMode = "OFFICE_TO_STORE_LOT"
)

func ParseReturnMode(raw string) (ReturnMode, error) {
	switch ReturnMode(raw) {
	case ReturnUserToOffice, ReturnOfficeToStoreLot:
		return ReturnMode(raw), nil
	}
	return "", &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown return mode %q", raw)}
}

// =============================================================================
// LEG CONSTRUCTORS
// =============================================================================

// IssueLeg builds the single ISSUE_IN leg for an issue record.
func IssueLeg(key BalanceKey, quantity float64, issueID, lotID string) (Leg, error) {
	if err := key.Validate(); err != nil {
		return Leg{}, err
	}
	return Leg{
		Key:       key,
		EventType: EventIssueIn,
		Quantity:  quantity,
		Source:    SourceRef{IssueID: issueID, LotID: lotID},
	}, nil
}

// ConsumeLeg builds the single CONSUME_OUT leg for a consumption record.
func ConsumeLeg(key BalanceKey, quantity float64, consumptionID string) (Leg, error) {
	if err := key.Validate(); err != nil {
		return Leg{}, err
	}
	return Leg{
		Key:       key,
		EventType: EventConsumeOut,
		Quantity:  quantity,
		Source:    SourceRef{ConsumptionID: consumptionID},
	}, nil
}

// ReturnLegs builds the legs for a return record. Both legs of a
// USER_TO_OFFICE return share the single quantity; divergent out/in
// quantities are not representable.
func ReturnLegs(mode ReturnMode, userID, officeID, itemID, lotID string, quantity float64, returnID string) ([]Leg, error) {
	if itemID == "" {
		return nil, &ValidationError{Field: "item_id", Reason: "missing item id"}
	}
	switch mode {
	case ReturnUserToOffice:
		if userID == "" {
			return nil, &ValidationError{Field: "user_id", Reason: "missing source user id"}
		}
		if officeID == "" {
			return nil, &ValidationError{Field: "office_id", Reason: "missing destination office id"}
		}
		return []Leg{
			{
				Key:         BalanceKey{HolderType: HolderUser, HolderID: userID, ItemID: itemID},
				EventType:   EventReturnOut,
				Quantity:    quantity,
				DedupMarker: returnMarker(returnID, 0),
			},
			{
				Key:         BalanceKey{HolderType: HolderOffice, HolderID: officeID, ItemID: itemID},
				EventType:   EventReturnIn,
				Quantity:    quantity,
				DedupMarker: returnMarker(returnID, 1),
			},
		}, nil
	case ReturnOfficeToStoreLot:
		if officeID == "" {
			return nil, &ValidationError{Field: "office_id", Reason: "missing source office id"}
		}
		return []Leg{
			{
				Key:         BalanceKey{HolderType: HolderOffice, HolderID: officeID, ItemID: itemID},
				EventType:   EventReturnOut,
				Quantity:    quantity,
				Source:      SourceRef{LotID: lotID},
				DedupMarker: returnMarker(returnID, 0),
			},
		}, nil
	}
	return nil, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown return mode %q", string(mode))}
}

// AdjustLeg builds a manual correction leg.
func AdjustLeg(key BalanceKey, eventType EventType, quantity float64, reference string) (Leg, error) {
	if eventType != EventAdjustIn && eventType != EventAdjustOut {
		return Leg{}, &ValidationError{Field: "event_type", Reason: "adjustment must be ADJUST_IN or ADJUST_OUT"}
	}
	if err := key.Validate(); err != nil {
		return Leg{}, err
	}
	return Leg{
		Key:         key,
		EventType:   eventType,
		Quantity:    quantity,
		DedupMarker: adjustMarker(reference),
	}, nil
}

func returnMarker(returnID string, leg int) string {
	if returnID == "" {
		return ""
	}
	return fmt.Sprintf("return:%s:leg%d", returnID, leg)
}

func adjustMarker(reference string) string {
	if reference == "" {
		return ""
	}
	return "adjust:" + reference
}
