package edugate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sectionsPage = `<html><body><table><tr><td>101 CSC</td></tr></table></body></html>`

// fakePortal mimics the portal's navigation flow, each hook lets a test break one step
type fakePortal struct {
	mu         sync.Mutex
	regValues  []string
	userAgents []string

	loginPage    string
	loginReply   string
	redirectPage string
	delay        time.Duration
	regLoop      bool
	regRequests  int
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		loginPage:    `<form><input type="hidden" name="javax.faces.ViewState" value="login-state"></form>`,
		loginReply:   `<html><body>welcome</body></html>`,
		redirectPage: `<script>window.location.replace("/ksu/sections?view=all")</script>`,
	}
}

func (p *fakePortal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.userAgents = append(p.userAgents, r.UserAgent())
		p.mu.Unlock()

		if p.delay > 0 {
			select {
			case <-time.After(p.delay):
			case <-r.Context().Done():
				return
			}
		}

		if r.Method == http.MethodGet {
			fmt.Fprint(w, p.loginPage)
			return
		}

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "login-state", r.PostForm.Get("javax.faces.ViewState"))
		assert.Equal(t, "loginForm", r.PostForm.Get("loginForm"))
		assert.Equal(t, "true", r.PostForm.Get("biConnectionConfig"))
		assert.Equal(t, "loginUsersLink", r.PostForm.Get("loginUsersLink"))
		if r.PostForm.Get("username") == "student" && r.PostForm.Get("password") == "hunter2" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		}
		fmt.Fprint(w, p.loginReply)
	})

	mux.HandleFunc("/reg", func(w http.ResponseWriter, r *http.Request) {
		if p.regLoop {
			p.mu.Lock()
			p.regRequests++
			p.mu.Unlock()
			http.Redirect(w, r, "/reg", http.StatusFound)
			return
		}
		if !hasSession(r) {
			fmt.Fprint(w, "<html>session expired</html>")
			return
		}
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<input name="javax.faces.ViewState" value="reg-state">`)
			return
		}
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "reg-state", r.PostForm.Get("javax.faces.ViewState"))
		assert.Equal(t, "myForm:serLinkDropAdd2", r.PostForm.Get("myForm:serLinkDropAdd2"))
	})

	mux.HandleFunc("/add", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.regValues = append(p.regValues, r.URL.Query().Get("reg"))
		p.mu.Unlock()
		fmt.Fprint(w, p.redirectPage)
	})

	mux.HandleFunc("/ksu/sections", func(w http.ResponseWriter, r *http.Request) {
		if !hasSession(r) || r.URL.Query().Get("view") != "all" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, sectionsPage)
	})

	return mux
}

func hasSession(r *http.Request) bool {
	cookie, err := r.Cookie("session")
	return err == nil && cookie.Value == "abc"
}

func portalConfig(baseURL string) config.Portal {
	return config.Portal{
		BaseURL:          baseURL,
		LoginPath:        "/login",
		RegistrationPath: "/reg",
		AddCoursesPath:   "/add",
		UserAgent:        "section-sense-test",
		Headers:          map[string]string{"Accept-Language": "ar"},
		Timeout:          2 * time.Second,
		FailureMarkers:   []string{"خطأ", "error"},
	}
}

func startPortal(t *testing.T, portal *fakePortal) *Navigator {
	t.Helper()
	server := httptest.NewServer(portal.handler(t))
	t.Cleanup(server.Close)

	navigator, err := NewNavigator(portalConfig(server.URL))
	require.NoError(t, err)
	return navigator
}

func TestNavigate(t *testing.T) {
	portal := newFakePortal()
	navigator := startPortal(t, portal)

	markup, err := navigator.Navigate(context.Background(), "student", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, sectionsPage, markup)
	assert.Equal(t, []string{"section-sense-test"}, portal.userAgents[:1])
}

func TestNavigateFreshCacheBusterPerCall(t *testing.T) {
	portal := newFakePortal()
	navigator := startPortal(t, portal)

	for i := 0; i < 2; i++ {
		_, err := navigator.Navigate(context.Background(), "student", "hunter2")
		require.NoError(t, err)
	}

	require.Len(t, portal.regValues, 2)
	assert.NotEmpty(t, portal.regValues[0])
	assert.NotEqual(t, portal.regValues[0], portal.regValues[1])
}

func TestNavigateMissingLoginToken(t *testing.T) {
	portal := newFakePortal()
	portal.loginPage = "<html><body>maintenance</body></html>"
	navigator := startPortal(t, portal)

	_, err := navigator.Navigate(context.Background(), "student", "hunter2")

	var protocolErr *sectionsense.ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	assert.Equal(t, "login page", protocolErr.Step)
}

func TestNavigateRejectedLogin(t *testing.T) {
	for _, reply := range []string{
		"<div>خطأ في اسم المستخدم</div>",
		"<div class='ERROR'>invalid</div>",
	} {
		portal := newFakePortal()
		portal.loginReply = reply
		navigator := startPortal(t, portal)

		_, err := navigator.Navigate(context.Background(), "student", "wrong")
		assert.True(t, sectionsense.IsAuth(err), "expected auth error, got %v", err)
		assert.NotContains(t, err.Error(), "wrong")
	}
}

func TestNavigateExpiredSessionHasNoRegistrationToken(t *testing.T) {
	portal := newFakePortal()
	navigator := startPortal(t, portal)

	// login is accepted without a failure marker, but no session cookie is issued
	_, err := navigator.Navigate(context.Background(), "someone", "else")

	var protocolErr *sectionsense.ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	assert.Equal(t, "registration page", protocolErr.Step)
}

func TestNavigateRedirectLoopIsProtocolError(t *testing.T) {
	portal := newFakePortal()
	portal.regLoop = true
	navigator := startPortal(t, portal)

	start := time.Now()
	_, err := navigator.Navigate(context.Background(), "student", "hunter2")

	var protocolErr *sectionsense.ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	assert.Equal(t, "registration page", protocolErr.Step)
	assert.Equal(t, "redirect loop", protocolErr.Reason)
	assert.Less(t, time.Since(start), time.Second)

	portal.mu.Lock()
	defer portal.mu.Unlock()
	assert.Equal(t, maxRedirects, portal.regRequests)
}

func TestNavigateMissingRedirect(t *testing.T) {
	portal := newFakePortal()
	portal.redirectPage = "<html>no redirect here</html>"
	navigator := startPortal(t, portal)

	_, err := navigator.Navigate(context.Background(), "student", "hunter2")

	var protocolErr *sectionsense.ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	assert.Equal(t, "add courses", protocolErr.Step)
}

func TestNavigateRedirectOffHost(t *testing.T) {
	portal := newFakePortal()
	portal.redirectPage = `<script>window.location.replace("https://example.com/steal")</script>`
	navigator := startPortal(t, portal)

	_, err := navigator.Navigate(context.Background(), "student", "hunter2")
	assert.True(t, sectionsense.IsTransient(err))
}

func TestNavigateTimeout(t *testing.T) {
	portal := newFakePortal()
	portal.delay = time.Second
	server := httptest.NewServer(portal.handler(t))
	t.Cleanup(server.Close)

	cfg := portalConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	navigator, err := NewNavigator(cfg)
	require.NoError(t, err)

	_, err = navigator.Navigate(context.Background(), "student", "hunter2")

	var timeoutErr *sectionsense.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "login page", timeoutErr.Step)
}

func TestNavigateNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	navigator, err := NewNavigator(portalConfig(server.URL))
	require.NoError(t, err)

	_, err = navigator.Navigate(context.Background(), "student", "hunter2")

	var networkErr *sectionsense.NetworkError
	require.ErrorAs(t, err, &networkErr)
	assert.True(t, sectionsense.IsTransient(err))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewNavigatorRejectsRelativeBaseURL(t *testing.T) {
	_, err := NewNavigator(portalConfig("/just/a/path"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	navigator, err := NewNavigator(portalConfig("https://edugate.example.edu"))
	require.NoError(t, err)

	target, err := navigator.resolve("/ksu/all?x=1")
	require.NoError(t, err)
	assert.Equal(t, "/ksu/all?x=1", target)

	target, err = navigator.resolve("https://edugate.example.edu/ksu/all")
	require.NoError(t, err)
	assert.Equal(t, "/ksu/all", target)

	_, err = navigator.resolve("https://elsewhere.example.com/ksu/all")
	assert.Error(t, err)
}
