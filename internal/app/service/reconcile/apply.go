package reconcile

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/fatflowers/subledger/internal/app/service/ledger"
	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/internal/platform/gateway"
	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/logctx"
	"github.com/fatflowers/subledger/pkg/types"
)

// snapshotRefs carries correlation keys from the event that are not part of
// the subscription snapshot itself.
type snapshotRefs struct {
	customerID string
	// userHints are candidate local user ids, tried in order after the
	// snapshot's own metadata.
	userHints []string
}

// applySnapshot upserts the subscription described by snap and writes an
// audit row when something material changed. It returns the row as it was
// before (nil when new) and as stored afterwards.
func (p *Processor) applySnapshot(
	ctx context.Context,
	tx *ledger.Tx,
	snap *gateway.SubscriptionSnapshot,
	refs snapshotRefs,
	reason types.SubscriptionChangeReason,
	eventID string,
) (*models.Subscription, *models.Subscription, error) {
	log := logctx.FromCtx(ctx, p.log)

	existing, err := tx.SubscriptionByGatewayID(snap.ID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, nil, err
	}

	customerID := lo.CoalesceOrEmpty(snap.CustomerID, refs.customerID)
	if customerID == "" && existing != nil {
		customerID = existing.GatewayCustomerID
	}

	var userID int64
	if existing != nil {
		userID = existing.UserID
	} else {
		hints := append([]string{snap.Metadata[gateway.MetadataUserID]}, refs.userHints...)
		user, err := resolveUser(tx, customerID, hints)
		if err != nil {
			return nil, nil, err
		}
		userID = user.ID
	}

	var packageID int64
	pkg, err := tx.PackageByPriceID(snap.PriceID)
	switch {
	case err == nil:
		packageID = pkg.ID
	case errors.Is(err, ledger.ErrNotFound) && existing != nil:
		log.Warnw("unknown price on known subscription, keeping package", "price_id", snap.PriceID, "package_id", existing.PackageID)
		packageID = existing.PackageID
	case errors.Is(err, ledger.ErrNotFound):
		return nil, nil, apperr.Correlation("no package for price %q", snap.PriceID)
	default:
		return nil, nil, err
	}

	status := snap.Status
	if existing != nil && existing.Status.Terminal() && !status.Terminal() {
		// the gateway never reactivates a canceled subscription
		log.Warnw("ignoring non-terminal status for canceled subscription", "status", status)
		status = existing.Status
	}

	row := &models.Subscription{
		UserID:                userID,
		PackageID:             packageID,
		GatewaySubscriptionID: snap.ID,
		GatewayCustomerID:     customerID,
		Status:                status,
		CurrentPeriodStart:    snap.CurrentPeriodStart,
		CurrentPeriodEnd:      snap.CurrentPeriodEnd,
		CancelAtPeriodEnd:     snap.CancelAtPeriodEnd,
		CanceledAt:            snap.CanceledAt,
		StateAsOf:             snap.AsOf,
	}
	stored, ok, err := tx.UpsertSubscription(row)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		log.Infow("stale subscription snapshot skipped", "gateway_subscription_id", snap.ID, "as_of", snap.AsOf, "stored_as_of", stored.StateAsOf)
		return existing, stored, nil
	}
	if materiallyChanged(existing, stored) {
		extra := map[string]any{"as_of": snap.AsOf.Format(time.RFC3339Nano), "price_id": snap.PriceID}
		if err := tx.AppendSubscriptionLog(existing, stored, reason, eventID, extra); err != nil {
			return nil, nil, err
		}
	}
	return existing, stored, nil
}

// resolveUser finds the local user for a gateway customer. Without a linked
// customer it falls back to the user ids carried in metadata, linking the
// customer to the first match that has none yet.
func resolveUser(tx *ledger.Tx, customerID string, hints []string) (*models.User, error) {
	user, err := tx.UserByGatewayCustomerID(customerID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	for _, h := range lo.Uniq(lo.Compact(hints)) {
		id, perr := strconv.ParseInt(h, 10, 64)
		if perr != nil || id <= 0 {
			continue
		}
		user, err := tx.UserByID(id)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if customerID != "" && user.GatewayCustomerID == nil {
			if _, err := tx.LinkCustomer(user.ID, customerID); err != nil {
				return nil, err
			}
			user.GatewayCustomerID = &customerID
		}
		return user, nil
	}
	return nil, apperr.Correlation("no local user for customer %q", customerID)
}

func materiallyChanged(before, after *models.Subscription) bool {
	if before == nil || after == nil {
		return before != after
	}
	return before.Status != after.Status ||
		before.PackageID != after.PackageID ||
		before.GatewayCustomerID != after.GatewayCustomerID ||
		before.CancelAtPeriodEnd != after.CancelAtPeriodEnd ||
		!sameTime(before.CurrentPeriodStart, after.CurrentPeriodStart) ||
		!sameTime(before.CurrentPeriodEnd, after.CurrentPeriodEnd) ||
		!sameTime(before.CanceledAt, after.CanceledAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
