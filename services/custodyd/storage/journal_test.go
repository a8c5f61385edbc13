package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"vestvault/core/events"
	"vestvault/native/oracle"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	journal, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ")
	require.ErrorIs(t, err, ErrDSNRequired)
}

func TestJournalRecordsNotificationsInOrder(t *testing.T) {
	journal := openTestJournal(t)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	journal.now = func() time.Time { return fixed }

	vault := [20]byte{0xAA}
	buyer := [20]byte{0x03}
	journal.Emit(events.TokensPurchased{Vault: vault, Buyer: buyer, Amount: 500, Payment: 12, OraclePrice: 250, OracleExpo: -2, PublishTime: 99, TotalTokens: 500})
	journal.Emit(events.ModulePaused{Module: "presale", Paused: true})
	journal.Emit(events.TokensPurchased{Vault: vault, Buyer: buyer, Amount: 100, Payment: 3, TotalTokens: 600})

	ctx := context.Background()
	all, err := journal.Notifications(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, events.TypeTokensPurchased, all[0].Type)
	require.Equal(t, events.TypeModulePaused, all[1].Type)
	require.Less(t, all[0].Seq, all[1].Seq)
	require.True(t, all[0].CreatedAt.Equal(fixed))

	payload, err := all[0].Payload()
	require.NoError(t, err)
	require.Equal(t, "500", payload.Attributes["amount"])

	after, err := journal.Notifications(ctx, Query{After: all[0].Seq, Type: events.TypeTokensPurchased})
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, all[2].Seq, after[0].Seq)

	totals, err := journal.PurchasesByVault(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	for _, total := range totals {
		require.Equal(t, int64(2), total.Count)
		require.Equal(t, uint64(600), total.Amount)
		require.Equal(t, uint64(15), total.Payment)
	}
}

func TestJournalLatestSample(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()
	feed := oracle.FeedID{0x01}

	_, err := journal.LatestSample(ctx, feed)
	require.Error(t, err)

	require.NoError(t, journal.RecordSample(ctx, oracle.PriceUpdate{FeedID: feed, Price: oracle.Price{Price: 100, Expo: -2, PublishTime: 10}}))
	require.NoError(t, journal.RecordSample(ctx, oracle.PriceUpdate{FeedID: feed, Price: oracle.Price{Price: 105, Expo: -2, PublishTime: 20}}))
	require.NoError(t, journal.RecordSample(ctx, oracle.PriceUpdate{FeedID: oracle.FeedID{0x02}, Price: oracle.Price{Price: 1, PublishTime: 30}}))

	sample, err := journal.LatestSample(ctx, feed)
	require.NoError(t, err)
	require.Equal(t, int64(105), sample.Price)
	require.Equal(t, int64(20), sample.PublishTime)
	require.Equal(t, feed.Hex(), sample.FeedID)
}

func TestJournalNonces(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	existed, err := journal.EnsureNonce(ctx, "vv1signer", "n-1", base)
	require.NoError(t, err)
	require.False(t, existed)

	existed, err = journal.EnsureNonce(ctx, "vv1signer", "n-1", base.Add(time.Second))
	require.NoError(t, err)
	require.True(t, existed)

	// Nonces are scoped per signer.
	existed, err = journal.EnsureNonce(ctx, "vv1other", "n-1", base)
	require.NoError(t, err)
	require.False(t, existed)

	_, err = journal.EnsureNonce(ctx, "vv1signer", "n-0", base.Add(-time.Hour))
	require.NoError(t, err)

	recent, err := journal.RecentNonces(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 2)

	require.NoError(t, journal.PruneNonces(ctx, base.Add(-time.Minute)))
	existed, err = journal.EnsureNonce(ctx, "vv1signer", "n-0", base)
	require.NoError(t, err)
	require.False(t, existed)
}
