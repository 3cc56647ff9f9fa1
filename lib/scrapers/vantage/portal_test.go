package vantage

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const (
	portalUsername = "svc-statuswatch"
	portalPassword = "hunter2!"
	portalCsrf     = "csrf-token-8839"
)

// fakePortal is a minimal stateful rendition of the Vantage partner
// portal: form login with a csrf token, optional email otp challenge,
// cookie sessions and an account status page.
type fakePortal struct {
	mu sync.Mutex

	// when set, a correct credential post interposes an otp
	// challenge instead of granting a session.
	otp             string
	pendingOtp      bool
	ipBlock         bool
	failNextLogins  int
	rejectNextFetch int
	loginCount      int
	loginPosts      int
	otpPosts        int
	nextSession     int
	sessions        map[string]bool
	accounts        map[string]string

	server *httptest.Server
}

func newFakePortal(t *testing.T) *fakePortal {
	p := &fakePortal{
		sessions: map[string]bool{},
		accounts: map[string]string{"user123": accountPage},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", p.handleLoginForm)
	mux.HandleFunc("POST /login", p.handleLogin)
	mux.HandleFunc("POST /login/verify", p.handleVerify)
	mux.HandleFunc("GET /dashboard", p.handleDashboard)
	mux.HandleFunc("GET /accounts/status", p.handleAccountStatus)
	mux.HandleFunc("POST /logout", p.handleLogout)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) url() string {
	return p.server.URL
}

// expireSessions invalidates every live session so the next fetch
// bounces to the login form.
func (p *fakePortal) expireSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = map[string]bool{}
}

func (p *fakePortal) logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginCount
}

// posts counts every POST /login hit, including ones the portal
// rejected or dropped.
func (p *fakePortal) posts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginPosts
}

func (p *fakePortal) setOtp(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.otp = code
}

func (p *fakePortal) setIpBlock(blocked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ipBlock = blocked
}

func (p *fakePortal) setFailLogins(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNextLogins = n
}

func (p *fakePortal) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie("portal_session")
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[cookie.Value]
}

func (p *fakePortal) grantSession(w http.ResponseWriter) {
	p.mu.Lock()
	p.nextSession++
	id := fmt.Sprintf("sess-%d", p.nextSession)
	p.sessions[id] = true
	p.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: "portal_session", Value: id, Path: "/"})
}

const loginFormPage = `<html><body>
	<form method="post" action="/login">
		<input type="hidden" name="csrf_token" value="` + portalCsrf + `">
		<input name="username">
		<input type="password" name="password">
	</form>
</body></html>`

const challengePage = `<html><body>
	<p class="challenge-prompt">Enter the verification code we sent to your email.</p>
	<form method="post" action="/login/verify"><input name="otp"></form>
</body></html>`

const challengeRetryPage = `<html><body>
	<p class="challenge-error">The code you entered did not work, try again.</p>
	<p class="challenge-prompt">Enter the verification code we sent to your email.</p>
	<form method="post" action="/login/verify"><input name="otp"></form>
</body></html>`

const dashboardPage = `<html><body>
	<div class="dashboard">Welcome back.</div>
	<a href="/logout">Log out</a>
</body></html>`

const rejectionPage = `<html><body>
	<p class="login-error">Invalid username or password.</p>
</body></html>` // also re-renders the form in the real portal

const sessionExpiredPage = `<html><body>
	<p>Your session expired. Please sign in to continue.</p>
	<form method="post" action="/login">
		<input type="hidden" name="csrf_token" value="` + portalCsrf + `">
		<input type="password" name="password">
	</form>
</body></html>`

const ipBlockPage = `<html><body>
	<div id="location-verification">
		<p class="verification-message">Unusual activity detected. Verify your location using the link in the email before signing in again.</p>
	</div>
</body></html>`

func (p *fakePortal) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, loginFormPage)
}

func (p *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.loginPosts++
	if p.failNextLogins > 0 {
		p.failNextLogins--
		p.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	p.mu.Unlock()

	if r.FormValue("csrf_token") != portalCsrf {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, rejectionPage)
		return
	}
	if r.FormValue("username") != portalUsername || r.FormValue("password") != portalPassword {
		fmt.Fprint(w, rejectionPage)
		return
	}

	p.mu.Lock()
	if p.ipBlock {
		p.mu.Unlock()
		fmt.Fprint(w, ipBlockPage)
		return
	}
	p.loginCount++
	challenge := p.otp != ""
	if challenge {
		p.pendingOtp = true
	}
	p.mu.Unlock()

	if challenge {
		fmt.Fprint(w, challengePage)
		return
	}
	p.grantSession(w)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (p *fakePortal) handleVerify(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	pending := p.pendingOtp
	expected := p.otp
	blocked := p.ipBlock
	p.otpPosts++
	p.mu.Unlock()

	if !pending {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if blocked {
		fmt.Fprint(w, ipBlockPage)
		return
	}
	if r.FormValue("otp") != expected {
		fmt.Fprint(w, challengeRetryPage)
		return
	}

	p.mu.Lock()
	p.pendingOtp = false
	p.mu.Unlock()
	p.grantSession(w)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (p *fakePortal) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !p.authenticated(r) {
		fmt.Fprint(w, sessionExpiredPage)
		return
	}
	fmt.Fprint(w, dashboardPage)
}

func (p *fakePortal) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	if !p.authenticated(r) {
		fmt.Fprint(w, sessionExpiredPage)
		return
	}

	p.mu.Lock()
	if p.rejectNextFetch > 0 {
		p.rejectNextFetch--
		p.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	p.mu.Unlock()

	identifier := r.URL.Query().Get("account")
	page, ok := p.accounts[identifier]
	if !ok {
		fmt.Fprint(w, `<html><body><div class="no-results">No account found.</div></body></html>`)
		return
	}
	fmt.Fprint(w, page)
}

func (p *fakePortal) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("portal_session")
	if err == nil {
		p.mu.Lock()
		delete(p.sessions, cookie.Value)
		p.mu.Unlock()
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}
