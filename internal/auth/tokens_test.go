package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(clock *testClock) (*TokenService, *flakyStore) {
	st := newFlakyStore(clock.Now)
	return NewTokenService(st).WithClock(clock.Now), st
}

func TestIssueTokensRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	svc, _ := newTestTokenService(clock)

	pair, err := svc.IssueTokens(ctx, "alice", false)
	require.NoError(t, err)
	assert.Len(t, pair.AccessToken, 64)
	assert.Len(t, pair.RefreshToken, 64)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, ClientID, pair.ClientID)

	access, err := svc.GetAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", access.Principal)
	assert.Equal(t, KindAccess, access.Kind)
	assert.WithinDuration(t, clock.Now().Add(DefaultAccessLifetime), access.ExpiresAt, time.Second)
	assert.Equal(t, pair.RefreshToken, access.Paired)

	refresh, err := svc.GetRefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", refresh.Principal)
	assert.WithinDuration(t, clock.Now().Add(DefaultRefreshLifetime), refresh.ExpiresAt, time.Second)

	_, err = svc.GetAccessToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestAccessTokenExpires(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	svc, _ := newTestTokenService(clock)
	svc.WithLifetimes(time.Minute, time.Hour)

	pair, err := svc.IssueTokens(ctx, "alice", false)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = svc.GetAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = svc.GetRefreshToken(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestScenarioRefreshRevokesOldAccessToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestTokenService(newTestClock())

	original, err := svc.IssueTokens(ctx, "alice", false)
	require.NoError(t, err)

	renewed, err := svc.Refresh(ctx, original.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, original.AccessToken, renewed.AccessToken)
	assert.NotEqual(t, original.RefreshToken, renewed.RefreshToken)

	_, err = svc.GetAccessToken(ctx, original.AccessToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	access, err := svc.GetAccessToken(ctx, renewed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", access.Principal)
}

func TestRefreshLeavesOriginalRefreshTokenValid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestTokenService(newTestClock())

	original, err := svc.IssueTokens(ctx, "alice", true)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, original.RefreshToken)
	require.NoError(t, err)

	still, err := svc.GetRefreshToken(ctx, original.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", still.Principal)

	again, err := svc.Refresh(ctx, original.RefreshToken)
	require.NoError(t, err)
	assert.True(t, again.StayLoggedIn)
}

func TestRefreshUnknownToken(t *testing.T) {
	svc, _ := newTestTokenService(newTestClock())
	_, err := svc.Refresh(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestTokenService(newTestClock())

	pair, err := svc.IssueTokens(ctx, "alice", false)
	require.NoError(t, err)

	access := Token{Value: pair.AccessToken, Kind: KindAccess}
	require.NoError(t, svc.Revoke(ctx, access))
	require.NoError(t, svc.Revoke(ctx, access))
	require.NoError(t, svc.Revoke(ctx, Token{Value: "never-issued", Kind: KindRefresh}))

	_, err = svc.GetAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = svc.GetRefreshToken(ctx, pair.RefreshToken)
	assert.NoError(t, err, "revoking the access token leaves its refresh token alone")
}

func TestStoreFailureIsNotTokenNotFound(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestTokenService(newTestClock())

	pair, err := svc.IssueTokens(ctx, "alice", false)
	require.NoError(t, err)

	st.SetDown(true)
	_, err = svc.GetAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrTokenNotFound)

	_, err = svc.IssueTokens(ctx, "alice", false)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestTokenValuesAreUnique(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestTokenService(newTestClock())

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		pair, err := svc.IssueTokens(ctx, "alice", false)
		require.NoError(t, err)
		for _, v := range []string{pair.AccessToken, pair.RefreshToken} {
			_, dup := seen[v]
			require.False(t, dup)
			seen[v] = struct{}{}
		}
	}
}
