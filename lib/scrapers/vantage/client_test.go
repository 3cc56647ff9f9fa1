package vantage

import (
	"context"
	"testing"

	"statuswatch-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, portal *fakePortal) *Client {
	t.Helper()
	client, err := NewClient(ClientOptions{BaseUrl: portal.url()})
	require.NoError(t, err)
	return client
}

func testCredential() Credential {
	return Credential{Username: portalUsername, Password: portalPassword}
}

func TestClientLogin(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/vantage")
	defer cleanup()

	portal := newFakePortal(t)
	client := testClient(t, portal)

	landing, err := client.Login(context.Background(), testCredential())
	require.NoError(t, err)
	require.True(t, isAuthenticatedPage(landing))
	require.Equal(t, 1, portal.logins())

	_, _, challenged := DetectChallenge(landing)
	require.False(t, challenged)
}

func TestClientLoginRejected(t *testing.T) {
	portal := newFakePortal(t)
	client := testClient(t, portal)

	_, err := client.Login(context.Background(), Credential{
		Username: portalUsername,
		Password: "wrong",
	})
	require.ErrorIs(t, err, ErrAuthenticationRejected)
	require.Equal(t, 0, portal.logins())
}

func TestClientLoginServerErrorIsTransient(t *testing.T) {
	portal := newFakePortal(t)
	portal.setFailLogins(1)
	client := testClient(t, portal)

	_, err := client.Login(context.Background(), testCredential())
	require.Error(t, err)
	require.True(t, IsTransient(err))
}

func TestClientLoginChallengeInterposed(t *testing.T) {
	portal := newFakePortal(t)
	portal.setOtp("440917")
	client := testClient(t, portal)
	ctx := context.Background()

	landing, err := client.Login(ctx, testCredential())
	require.NoError(t, err)
	require.False(t, isAuthenticatedPage(landing))

	kind, prompt, challenged := DetectChallenge(landing)
	require.True(t, challenged)
	require.Equal(t, ChallengeEmailOtp, kind)
	require.Contains(t, prompt, "verification code")

	after, err := client.SubmitChallengeResolution(ctx, kind, "440917")
	require.NoError(t, err)
	require.True(t, isAuthenticatedPage(after))
}

func TestClientChallengeWrongCodeRepeatsChallenge(t *testing.T) {
	portal := newFakePortal(t)
	portal.setOtp("440917")
	client := testClient(t, portal)
	ctx := context.Background()

	_, err := client.Login(ctx, testCredential())
	require.NoError(t, err)

	after, err := client.SubmitChallengeResolution(ctx, ChallengeEmailOtp, "000000")
	require.NoError(t, err)
	require.False(t, isAuthenticatedPage(after))

	kind, _, challenged := DetectChallenge(after)
	require.True(t, challenged)
	require.Equal(t, ChallengeEmailOtp, kind)
}

func TestClientFetchAccountPage(t *testing.T) {
	portal := newFakePortal(t)
	client := testClient(t, portal)
	ctx := context.Background()

	_, err := client.Login(ctx, testCredential())
	require.NoError(t, err)

	snap, err := client.FetchAccountPage(ctx, "user123")
	require.NoError(t, err)

	result, err := testEngine(t).Extract(ctx, "user123", snap)
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, "Approved", result.Fields["deposit_status"].Value)
}

func TestClientFetchAccountPageSessionExpired(t *testing.T) {
	portal := newFakePortal(t)
	client := testClient(t, portal)
	ctx := context.Background()

	_, err := client.Login(ctx, testCredential())
	require.NoError(t, err)

	portal.expireSessions()
	_, err = client.FetchAccountPage(ctx, "user123")
	require.ErrorIs(t, err, ErrSessionInvalidated)
}

func TestClientFetchUnknownAccount(t *testing.T) {
	portal := newFakePortal(t)
	client := testClient(t, portal)
	ctx := context.Background()

	_, err := client.Login(ctx, testCredential())
	require.NoError(t, err)

	snap, err := client.FetchAccountPage(ctx, "ghost")
	require.NoError(t, err)

	result, err := testEngine(t).Extract(ctx, "ghost", snap)
	require.NoError(t, err)
	require.False(t, result.Found)
}
