package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/internal/platform/db/dbtest"
	"github.com/fatflowers/subledger/pkg/types"
)

func TestRecord_UpsertsByEventID(t *testing.T) {
	db := dbtest.Open(t)
	s := New(db, zap.NewNop().Sugar())
	ctx := context.Background()

	entry := func(outcome types.WebhookOutcome, lastErr *string) *models.WebhookEventLog {
		return &models.WebhookEventLog{
			ProviderID: types.PaymentProviderStripe,
			EventID:    "evt_1",
			EventType:  "invoice.payment_succeeded",
			ObjectID:   "in_999",
			EventTime:  time.Unix(1700000000, 0).UTC(),
			Data:       datatypes.JSON(`{"id":"evt_1"}`),
			Outcome:    outcome,
			LastError:  lastErr,
		}
	}

	s.Record(ctx, entry(types.WebhookOutcomeFailed, lo.ToPtr("transient: db")))
	s.Wait()
	s.Record(ctx, entry(types.WebhookOutcomeHandled, nil))
	s.Wait()
	s.Record(ctx, nil)
	s.Wait()

	var rows []models.WebhookEventLog
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, types.WebhookOutcomeHandled, rows[0].Outcome)
	require.Equal(t, 2, rows[0].Attempts)
	require.Nil(t, rows[0].LastError)
}
