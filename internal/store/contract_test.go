package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyforge/internal/shared/testutil"
	"keyforge/pkg/contracts/domain"
)

// runStoreContract exercises the behaviour every backend must share
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := testutil.FixedTime

	t.Run("keys round trip", func(t *testing.T) {
		older := testutil.KeyAged(testutil.SampleKey, now, 48*time.Hour)
		newer := testutil.KeyAged(testutil.OtherSampleKey, now, time.Hour)

		require.NoError(t, s.CreateKey(ctx, newer))
		require.NoError(t, s.CreateKey(ctx, older))

		all, err := s.QueryKeys(ctx, domain.KeyFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, older.Key, all[0].Key, "ordered by creation time")
		assert.True(t, older.CreatedAt.Equal(all[0].CreatedAt))
		assert.False(t, all[0].Used)

		one, err := s.QueryKeys(ctx, domain.KeyFilter{Key: newer.Key})
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, newer.Key, one[0].Key)

		none, err := s.QueryKeys(ctx, domain.KeyFilter{Key: "KF_1111-1111-1111-1111"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("duplicate key rejected", func(t *testing.T) {
		err := s.CreateKey(ctx, testutil.KeyAged(testutil.SampleKey, now, 0))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("patch flips used", func(t *testing.T) {
		require.NoError(t, s.PatchKey(ctx, testutil.SampleKey, domain.KeyPatch{Used: true}))

		recs, err := s.QueryKeys(ctx, domain.KeyFilter{Key: testutil.SampleKey})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.True(t, recs[0].Used)
	})

	t.Run("delete key", func(t *testing.T) {
		require.NoError(t, s.DeleteKey(ctx, testutil.SampleKey))
		require.NoError(t, s.DeleteKey(ctx, testutil.SampleKey), "deleting an absent key succeeds")

		recs, err := s.QueryKeys(ctx, domain.KeyFilter{})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, testutil.OtherSampleKey, recs[0].Key)
	})

	t.Run("users", func(t *testing.T) {
		u1 := domain.UserRecord{UserID: "dXNlcjE=", Cookies: "c=1", HWID: "AAAA-BBBB", Key: testutil.OtherSampleKey, RegisteredAt: now}
		u2 := domain.UserRecord{UserID: "dXNlcjI=", HWID: "CCCC-DDDD", Key: testutil.SampleKey, RegisteredAt: now.Add(time.Minute)}

		require.NoError(t, s.CreateUser(ctx, u1))
		require.NoError(t, s.CreateUser(ctx, u2))
		assert.ErrorIs(t, s.CreateUser(ctx, u1), ErrDuplicate)

		byID, err := s.QueryUsers(ctx, domain.UserFilter{UserID: u1.UserID})
		require.NoError(t, err)
		require.Len(t, byID, 1)
		assert.Equal(t, u1.Cookies, byID[0].Cookies)
		assert.Equal(t, u1.Key, byID[0].Key)
		assert.True(t, u1.RegisteredAt.Equal(byID[0].RegisteredAt))

		byHWID, err := s.QueryUsers(ctx, domain.UserFilter{HWID: u2.HWID})
		require.NoError(t, err)
		require.Len(t, byHWID, 1)
		assert.Equal(t, u2.UserID, byHWID[0].UserID)

		require.NoError(t, s.DeleteUser(ctx, u1.HWID))
		all, err := s.QueryUsers(ctx, domain.UserFilter{})
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, u2.UserID, all[0].UserID)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
