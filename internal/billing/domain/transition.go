package domain

import (
	"strings"
	"time"

	orgdomain "github.com/smallbiznis/couture/internal/organization/domain"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
)

// TransitionInput is everything the transition function needs besides the
// organization record itself. Plan resolution happens before the call so the
// function stays pure.
type TransitionInput struct {
	Event *InboundEvent
	// ResolvedPlan is the local plan matching the event's plan code, nil
	// when the code did not resolve.
	ResolvedPlan *plandomain.Plan
	Now          time.Time
}

// Note marks a divergence the transition detected but deliberately did not
// fail on. Callers persist notes as data inconsistencies.
type Note struct {
	Kind   string
	Detail map[string]any
}

// Transition applies one provider event to an organization record in place.
// It returns whether any subscription field changed and any inconsistency
// notes. It never returns an error: business-level problems are applied
// partially and flagged instead of failing the event.
func Transition(org *orgdomain.Organization, in TransitionInput) (bool, []Note) {
	ev := in.Event
	if org == nil || ev == nil {
		return false, nil
	}

	switch ev.Type {
	case EventSubscriptionCreated:
		return applyCreated(org, in)
	case EventSubscriptionUpdated:
		return applyUpdated(org, in)
	case EventSubscriptionDeleted:
		return applyDeleted(org, in)
	case EventInvoicePaid:
		if org.Status == orgdomain.StatusPastDue {
			org.Status = orgdomain.StatusActive
			return true, nil
		}
		return false, nil
	case EventInvoicePaymentFail:
		if org.Status == orgdomain.StatusActive {
			org.Status = orgdomain.StatusPastDue
			return true, nil
		}
		return false, nil
	default:
		return false, nil
	}
}

func applyCreated(org *orgdomain.Organization, in TransitionInput) (bool, []Note) {
	ev := in.Event
	sub := ev.Subscription
	if sub == nil || strings.TrimSpace(sub.ExternalID) == "" {
		return false, []Note{{Kind: InconsistencySubscriptionClash, Detail: map[string]any{
			"reason": "created event without subscription id",
		}}}
	}

	externalID := strings.TrimSpace(sub.ExternalID)
	if org.Status == orgdomain.StatusCancelled && org.ExternalSubscriptionID != nil && *org.ExternalSubscriptionID == externalID {
		// A replayed created event for the subscription that was cancelled
		// must not resurrect it; only a new external id starts a fresh
		// lifecycle.
		return false, nil
	}
	if org.ExternalSubscriptionID != nil && *org.ExternalSubscriptionID != externalID {
		// Re-subscription after cancellation is modeled as a fresh external
		// subscription id; anything else is drift the operator must resolve.
		if org.Status != orgdomain.StatusCancelled {
			return false, []Note{{Kind: InconsistencySubscriptionClash, Detail: map[string]any{
				"current_subscription_id":  *org.ExternalSubscriptionID,
				"incoming_subscription_id": externalID,
			}}}
		}
		org.SubscriptionEndsAt = nil
		org.CancelAtPeriodEnd = false
	}

	var notes []Note
	org.ExternalSubscriptionID = &externalID

	status, ok := mapProviderStatus(sub.Status)
	if !ok {
		status = orgdomain.StatusActive
		if strings.TrimSpace(sub.Status) != "" {
			notes = append(notes, Note{Kind: InconsistencyStatusUnknown, Detail: map[string]any{
				"provider_status": sub.Status,
			}})
		}
	}
	org.Status = status

	if sub.StartedAt != nil {
		org.SubscriptionStartedAt = sub.StartedAt
	} else {
		occurred := ev.OccurredAt
		org.SubscriptionStartedAt = &occurred
	}

	notes = append(notes, resolvePlan(org, in)...)
	notes = append(notes, applyEndDateRule(org, sub, status)...)
	return true, notes
}

func applyUpdated(org *orgdomain.Organization, in TransitionInput) (bool, []Note) {
	ev := in.Event
	sub := ev.Subscription
	if sub == nil {
		return false, nil
	}

	// Cancelled is terminal; only a fresh subscription (created event with a
	// new external id) leaves it.
	if org.Status == orgdomain.StatusCancelled {
		return false, nil
	}

	var notes []Note
	changed := false

	status := org.Status
	if strings.TrimSpace(sub.Status) != "" {
		mapped, ok := mapProviderStatus(sub.Status)
		if !ok {
			notes = append(notes, Note{Kind: InconsistencyStatusUnknown, Detail: map[string]any{
				"provider_status": sub.Status,
			}})
		} else if mapped != org.Status {
			org.Status = mapped
			status = mapped
			changed = true
		} else {
			status = mapped
		}
	}

	if strings.TrimSpace(sub.PlanCode) != "" && sub.PlanCode != org.PlanCode {
		notes = append(notes, resolvePlan(org, in)...)
		changed = true
	}

	if sub.StartedAt != nil && org.SubscriptionStartedAt == nil {
		org.SubscriptionStartedAt = sub.StartedAt
		changed = true
	}

	before := snapshotEndState(org)
	notes = append(notes, applyEndDateRule(org, sub, status)...)
	if before != snapshotEndState(org) {
		changed = true
	}

	return changed, notes
}

func applyDeleted(org *orgdomain.Organization, in TransitionInput) (bool, []Note) {
	sub := in.Event.Subscription

	// A termination time on a cancelled record is immutable.
	if org.Status == orgdomain.StatusCancelled && org.SubscriptionEndsAt != nil {
		return false, nil
	}

	changed := org.Status != orgdomain.StatusCancelled
	org.Status = orgdomain.StatusCancelled

	if org.SubscriptionEndsAt == nil {
		endsAt := in.Event.OccurredAt
		if sub != nil && sub.EndedAt != nil {
			endsAt = *sub.EndedAt
		} else if sub != nil && sub.CurrentPeriodEnd != nil {
			endsAt = *sub.CurrentPeriodEnd
		}
		org.SubscriptionEndsAt = &endsAt
		changed = true
	}

	return changed, nil
}

// applyEndDateRule implements the effective-end-date policy: derive
// subscription_ends_at from possibly-partial cancellation signals without
// letting absent fields reset previously-computed state.
func applyEndDateRule(org *orgdomain.Organization, sub *SubscriptionData, status orgdomain.SubscriptionStatus) []Note {
	var notes []Note

	if sub.CancelAtPeriodEnd != nil {
		if *sub.CancelAtPeriodEnd {
			org.CancelAtPeriodEnd = true
			if sub.CurrentPeriodEnd != nil {
				org.SubscriptionEndsAt = sub.CurrentPeriodEnd
			} else if org.SubscriptionEndsAt == nil {
				notes = append(notes, Note{Kind: InconsistencyMissingPeriodEnd, Detail: map[string]any{
					"reason": "cancel_at_period_end set without a period end",
				}})
			}
		} else {
			org.CancelAtPeriodEnd = false
			if status != orgdomain.StatusCancelled {
				org.SubscriptionEndsAt = nil
			}
		}
	}

	if status == orgdomain.StatusCancelled && sub.EndedAt != nil {
		org.SubscriptionEndsAt = sub.EndedAt
	}

	return notes
}

func resolvePlan(org *orgdomain.Organization, in TransitionInput) []Note {
	code := ""
	if in.Event.Subscription != nil {
		code = strings.TrimSpace(in.Event.Subscription.PlanCode)
	}
	if code == "" {
		return nil
	}

	if in.ResolvedPlan != nil {
		id := in.ResolvedPlan.ID
		org.PlanID = &id
		org.PlanCode = in.ResolvedPlan.Code
		return nil
	}

	// Unresolved plan codes apply the rest of the transition but leave the
	// plan reference empty and flag the record for manual reconciliation.
	org.PlanID = nil
	org.PlanCode = ""
	org.NeedsReconciliation = true
	return []Note{{Kind: InconsistencyPlanUnresolved, Detail: map[string]any{
		"plan_code": code,
	}}}
}

type endState struct {
	cancelAtPeriodEnd bool
	endsAt            string
}

func snapshotEndState(org *orgdomain.Organization) endState {
	state := endState{cancelAtPeriodEnd: org.CancelAtPeriodEnd}
	if org.SubscriptionEndsAt != nil {
		state.endsAt = org.SubscriptionEndsAt.UTC().Format(time.RFC3339Nano)
	}
	return state
}

func mapProviderStatus(raw string) (orgdomain.SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trialing":
		return orgdomain.StatusTrialing, true
	case "active":
		return orgdomain.StatusActive, true
	case "past_due":
		return orgdomain.StatusPastDue, true
	case "canceled", "cancelled":
		return orgdomain.StatusCancelled, true
	case "unpaid", "paused", "suspended":
		return orgdomain.StatusSuspended, true
	default:
		return "", false
	}
}
