package vantage

import (
	"time"

	"statuswatch-backend/lib/htmlutil"
	"statuswatch-backend/lib/textutil"

	"github.com/google/uuid"
)

type ChallengeKind string

const (
	ChallengeCaptcha          ChallengeKind = "captcha"
	ChallengeEmailOtp         ChallengeKind = "email_otp"
	ChallengeSecurityQuestion ChallengeKind = "security_question"
	ChallengeIpVerification   ChallengeKind = "ip_verification"
)

// Challenge is one verification step the portal interposed during
// login. At most one exists per session; it is cleared on resolution
// or when the owning login attempt is abandoned.
type Challenge struct {
	Id        string
	Kind      ChallengeKind
	Prompt    string
	CreatedAt time.Time
	// ResolvedAt stays zero until an external channel supplies a
	// resolution.
	ResolvedAt time.Time

	resolution string
}

func newChallenge(kind ChallengeKind, prompt string, now time.Time) *Challenge {
	return &Challenge{
		Id:        uuid.NewString(),
		Kind:      kind,
		Prompt:    prompt,
		CreatedAt: now,
	}
}

func (c *Challenge) Resolved() bool {
	return !c.ResolvedAt.IsZero()
}

// Resolution is the externally supplied value (an OTP code, an
// answer). Kept unexported so it never leaks through logging or
// result marshaling.
func (c *Challenge) Resolution() string {
	return c.resolution
}

type challengeRule struct {
	kind ChallengeKind
	// selectors that positively identify the challenge's markup.
	selectors []string
	// phrases matched against the page's visible text. matched only
	// when no selector hit; phrases are challenge-specific so plain
	// form validation text ("this field is required") never matches.
	phrases []string
}

// ordered: first match wins. captcha outranks otp because captcha
// pages frequently also carry a code input.
var challengeRules = []challengeRule{
	{
		kind: ChallengeCaptcha,
		selectors: []string{
			"div.g-recaptcha",
			"div.h-captcha",
			"iframe[src*='captcha']",
			"#captcha-challenge",
		},
		phrases: []string{
			"verify you are human",
			"complete the captcha",
			"prove you are not a robot",
		},
	},
	{
		kind: ChallengeEmailOtp,
		selectors: []string{
			"input[name='otp']",
			"input[name='otp_code']",
			"input[autocomplete='one-time-code']",
			"form#email-verification",
		},
		phrases: []string{
			"enter the verification code",
			"code we sent to your email",
			"one-time code",
		},
	},
	{
		kind: ChallengeSecurityQuestion,
		selectors: []string{
			"input[name='security_answer']",
			"form .security-question",
		},
		phrases: []string{
			"answer your security question",
			"security question",
		},
	},
	{
		kind: ChallengeIpVerification,
		selectors: []string{
			"#location-verification",
		},
		phrases: []string{
			"unusual activity detected",
			"verify your location",
			"sign-in from a new location",
			"access denied from your region",
		},
	},
}

// DetectChallenge classifies a page as one challenge kind or none.
// Pure: same snapshot in, same answer out.
func DetectChallenge(snap *Snapshot) (ChallengeKind, string, bool) {
	text := snap.Text()
	for _, rule := range challengeRules {
		for _, selector := range rule.selectors {
			sel := snap.Doc().Find(selector)
			if sel.Length() > 0 {
				return rule.kind, challengePrompt(snap, rule.kind), true
			}
		}
		if textutil.ContainsAny(text, rule.phrases) {
			return rule.kind, challengePrompt(snap, rule.kind), true
		}
	}
	return "", "", false
}

// the portal renders a human-readable hint near the challenge; fall
// back to a stable generic prompt when it doesn't.
func challengePrompt(snap *Snapshot, kind ChallengeKind) string {
	prompt := htmlutil.SelectionText(snap.Doc().Find(".challenge-prompt, .verification-message").First())
	if prompt != "" {
		return prompt
	}
	switch kind {
	case ChallengeCaptcha:
		return "the portal is demanding a captcha"
	case ChallengeEmailOtp:
		return "the portal sent a verification code by email"
	case ChallengeSecurityQuestion:
		return "the portal is asking a security question"
	case ChallengeIpVerification:
		return "the portal blocked this location"
	}
	return "the portal interposed an unknown challenge"
}
