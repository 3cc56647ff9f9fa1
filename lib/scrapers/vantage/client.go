package vantage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"statuswatch-backend/lib/restyutil"
	"statuswatch-backend/lib/textutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

// Credential is the portal login secret. It only ever flows from the
// keychain into Login; nothing else reads it.
type Credential struct {
	Username string
	Password string
}

type Client struct {
	baseUrl *url.URL
	http    *resty.Client
}

type ClientOptions struct {
	BaseUrl string
	// CloudflareBypass emulates a real browser's header order for
	// deployments where the portal sits behind cloudflare.
	CloudflareBypass bool
	// InstrumentOutput receives full http transcripts when debug
	// logging is on. nil disables transcript dumps.
	InstrumentOutput restyutil.InstrumentOutput
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse portal base url: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	restyutil.InstrumentClient(client, tracer, opts.InstrumentOutput)

	return &Client{baseUrl: baseUrl, http: client}, nil
}

// get fetches a page and wraps every network-level failure as
// transient. Non-2xx statuses are not errors here; callers classify
// the page they got.
func (c *Client) get(ctx context.Context, op, path string, query url.Values) (*Snapshot, error) {
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	res, err := req.Get(path)
	if err != nil {
		return nil, Transient(op, err)
	}
	return c.classify(op, res)
}

func (c *Client) postForm(ctx context.Context, op, path string, form map[string]string) (*Snapshot, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(path)
	if err != nil {
		return nil, Transient(op, err)
	}
	return c.classify(op, res)
}

// classify turns overload-ish statuses into transient errors and
// everything else into a snapshot.
func (c *Client) classify(op string, res *resty.Response) (*Snapshot, error) {
	code := res.StatusCode()
	if code >= 500 || code == 429 || code == 408 {
		return nil, Transient(op, fmt.Errorf("portal returned status %d", code))
	}
	return NewSnapshot(res.Request.URL, code, res.Body())
}

// Login walks the portal's form login: fetch the form for its csrf
// token, post the credentials, return the landing page. A challenge
// page is not an error; the caller detects it on the snapshot. Only
// an explicit credential rejection fails here.
func (c *Client) Login(ctx context.Context, cred Credential) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	formPage, err := c.get(ctx, "login form", "/login", nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch login form")
		return nil, err
	}

	csrfToken := formPage.Doc().Find("input[name='csrf_token']").AttrOr("value", "")
	if csrfToken == "" {
		err := Transient("login form", fmt.Errorf("login form has no csrf token"))
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to find csrf token")
		return nil, err
	}

	landing, err := c.postForm(ctx, "login", "/login", map[string]string{
		"csrf_token": csrfToken,
		"username":   cred.Username,
		"password":   cred.Password,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return nil, err
	}

	if hasRejectionMarker(landing) {
		span.SetStatus(codes.Error, ErrAuthenticationRejected.Error())
		return nil, ErrAuthenticationRejected
	}
	return landing, nil
}

// SubmitChallengeResolution continues a pending login by posting the
// externally supplied value. The returned landing page may be the
// account dashboard, another challenge, or a rejection; the caller
// classifies it.
func (c *Client) SubmitChallengeResolution(ctx context.Context, kind ChallengeKind, value string) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "SubmitChallengeResolution")
	defer span.End()

	field := "response"
	switch kind {
	case ChallengeEmailOtp:
		field = "otp"
	case ChallengeSecurityQuestion:
		field = "security_answer"
	case ChallengeCaptcha:
		field = "captcha_response"
	}

	landing, err := c.postForm(ctx, "challenge resolution", "/login/verify", map[string]string{
		field: value,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "challenge resolution request failed")
		return nil, err
	}
	return landing, nil
}

// FetchAccountPage loads the status page for one account identifier.
// Requires a live session; a bounce back to the login form means the
// portal dropped it.
func (c *Client) FetchAccountPage(ctx context.Context, identifier string) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "FetchAccountPage")
	defer span.End()

	query := url.Values{}
	query.Set("account", identifier)
	snap, err := c.get(ctx, "account page", "/accounts/status", query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch account page")
		return nil, err
	}
	if isLoginPage(snap) {
		span.SetStatus(codes.Error, ErrSessionInvalidated.Error())
		return nil, ErrSessionInvalidated
	}
	return snap, nil
}

// FetchDashboard loads the landing page, used to probe whether the
// session is still alive.
func (c *Client) FetchDashboard(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "FetchDashboard")
	defer span.End()

	snap, err := c.get(ctx, "dashboard", "/dashboard", nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch dashboard")
		return nil, err
	}
	return snap, nil
}

// Logout drops the portal session. Errors are not interesting; the
// cookie jar is discarded either way.
func (c *Client) Logout(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Logout")
	defer span.End()

	_, err := c.http.R().SetContext(ctx).Post("/logout")
	if err != nil {
		span.RecordError(err)
	}
}

// AccountPageUrl is the absolute account status url, for drivers that
// load the page outside this client (the headless renderer).
func (c *Client) AccountPageUrl(identifier string) string {
	u := *c.baseUrl
	u.Path = "/accounts/status"
	u.RawQuery = url.Values{"account": {identifier}}.Encode()
	return u.String()
}

// cookies hands the portal session cookies to the renderer so a
// browser context can reuse the login.
func (c *Client) cookies() []*http.Cookie {
	return c.http.GetClient().Jar.Cookies(c.baseUrl)
}

var rejectionPhrases = []string{
	"invalid username or password",
	"incorrect username or password",
	"invalid credentials",
	"your account has been locked",
	"too many failed attempts",
}

func hasRejectionMarker(snap *Snapshot) bool {
	if snap.Doc().Find(".login-error, .auth-error").Length() > 0 {
		return true
	}
	return textutil.ContainsAny(snap.Text(), rejectionPhrases)
}

var sessionExpiredPhrases = []string{
	"session expired",
	"session has expired",
	"please sign in to continue",
}

// isLoginPage reports whether the portal bounced us to the login
// form instead of serving the requested page.
func isLoginPage(snap *Snapshot) bool {
	doc := snap.Doc()
	if doc.Find("form input[name='password']").Length() > 0 &&
		doc.Find("input[name='csrf_token']").Length() > 0 {
		return true
	}
	return textutil.ContainsAny(snap.Text(), sessionExpiredPhrases)
}

// isAuthenticatedPage reports whether the page is served from inside
// a live session.
func isAuthenticatedPage(snap *Snapshot) bool {
	doc := snap.Doc()
	return doc.Find("a[href='/logout']").Length() > 0 ||
		doc.Find("#account-overview").Length() > 0 ||
		doc.Find(".dashboard").Length() > 0
}
