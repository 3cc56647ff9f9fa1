package vantage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func snapshotFromHtml(t *testing.T, body string) *Snapshot {
	t.Helper()
	snap, err := NewSnapshot("https://portal.vantage.example/login", 200, []byte(body))
	require.NoError(t, err)
	return snap
}

func TestDetectChallengeCaptcha(t *testing.T) {
	snap := snapshotFromHtml(t, `<html><body>
		<form method="post">
			<div class="g-recaptcha" data-sitekey="abc"></div>
		</form>
	</body></html>`)

	kind, _, ok := DetectChallenge(snap)
	require.True(t, ok)
	require.Equal(t, ChallengeCaptcha, kind)
}

func TestDetectChallengeEmailOtp(t *testing.T) {
	snap := snapshotFromHtml(t, `<html><body>
		<p class="challenge-prompt">Enter the verification code we sent to j***@example.com</p>
		<form><input type="text" name="otp"></form>
	</body></html>`)

	kind, prompt, ok := DetectChallenge(snap)
	require.True(t, ok)
	require.Equal(t, ChallengeEmailOtp, kind)
	require.Contains(t, prompt, "verification code")
}

func TestDetectChallengeSecurityQuestionByPhrase(t *testing.T) {
	snap := snapshotFromHtml(t, `<html><body>
		<p>Please answer your security question to continue.</p>
		<form><input type="text" name="answer"></form>
	</body></html>`)

	kind, _, ok := DetectChallenge(snap)
	require.True(t, ok)
	require.Equal(t, ChallengeSecurityQuestion, kind)
}

func TestDetectChallengeIpVerification(t *testing.T) {
	snap := snapshotFromHtml(t, `<html><body>
		<h1>Unusual activity detected</h1>
		<p>We blocked a sign-in from a new location.</p>
	</body></html>`)

	kind, _, ok := DetectChallenge(snap)
	require.True(t, ok)
	require.Equal(t, ChallengeIpVerification, kind)
}

func TestDetectChallengeOrdering(t *testing.T) {
	// captcha pages often carry an otp input too; captcha must win.
	snap := snapshotFromHtml(t, `<html><body>
		<iframe src="https://challenge.example/captcha/frame"></iframe>
		<form><input name="otp"></form>
	</body></html>`)

	kind, _, ok := DetectChallenge(snap)
	require.True(t, ok)
	require.Equal(t, ChallengeCaptcha, kind)
}

func TestDetectChallengeIgnoresFormValidation(t *testing.T) {
	snap := snapshotFromHtml(t, `<html><body>
		<form method="post" action="/login">
			<p class="error">This field is required.</p>
			<p class="error">Password is required.</p>
			<input name="username"><input type="password" name="password">
		</form>
	</body></html>`)

	_, _, ok := DetectChallenge(snap)
	require.False(t, ok)
}

func TestDetectChallengeNoneOnPlainPage(t *testing.T) {
	snap := snapshotFromHtml(t, `<html><body>
		<div id="account-overview"><span class="account-name">user123</span></div>
	</body></html>`)

	_, _, ok := DetectChallenge(snap)
	require.False(t, ok)
}
