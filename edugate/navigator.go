package edugate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/rs/zerolog/log"
)

var _ sectionsense.Navigator = &Navigator{}

const viewStateField = "javax.faces.ViewState"

var redirectRegex = regexp.MustCompile(`window\.location\.replace\("([^"]+)"\)`)

// same limit as net/http's default redirect policy
const maxRedirects = 10

var errRedirectLoop = errors.New("stopped after too many redirects")

func redirectLimit(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errRedirectLoop
	}
	return nil
}

// Navigator walks the portal from the login page to the available sections page.
// Every call runs in a fresh session so accounts never share cookies.
type Navigator struct {
	baseURL *url.URL
	cfg     config.Portal

	mu   sync.Mutex
	rand *rand.Rand
}

func NewNavigator(cfg config.Portal) (*Navigator, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse portal base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("portal base url %q must be absolute", cfg.BaseURL)
	}

	return &Navigator{
		baseURL: baseURL,
		cfg:     cfg,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (n *Navigator) Navigate(ctx context.Context, username string, password sectionsense.Secret) (string, error) {
	client, err := n.newClient()
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}

	logger := log.With().Str("module", "edugate").Str("username", username).Logger()

	// 1. fetch the login form token
	token, err := n.viewState(ctx, client, "login page", n.cfg.LoginPath)
	if err != nil {
		return "", err
	}

	// 2. log in
	body, err := n.post(ctx, client, "login", n.cfg.LoginPath, map[string]string{
		"loginForm":          "loginForm",
		"biConnectionConfig": "true",
		"token":              "",
		"username":           username,
		"password":           password.Reveal(),
		"newsCode":           "",
		viewStateField:       token,
		"loginUsersLink":     "loginUsersLink",
	})
	if err != nil {
		return "", err
	}
	if marker, failed := n.loginFailed(body); failed {
		logger.Debug().Str("marker", marker).Msg("login response contained failure marker")
		return "", &sectionsense.AuthError{Reason: "portal rejected the credentials"}
	}

	// 3. registration landing page
	token, err = n.viewState(ctx, client, "registration page", n.cfg.RegistrationPath)
	if err != nil {
		return "", err
	}

	// 4. the navigation action, its response only matters for the session state
	_, err = n.post(ctx, client, "registration navigation", n.cfg.RegistrationPath, map[string]string{
		"myForm":                 "myForm",
		viewStateField:           token,
		"myForm:serLinkDropAdd2": "myForm:serLinkDropAdd2",
	})
	if err != nil {
		return "", err
	}

	// 5. add courses trigger answers with a javascript redirect
	body, err = n.get(ctx, client, "add courses", n.cfg.AddCoursesPath, map[string]string{"reg": n.cacheBuster()})
	if err != nil {
		return "", err
	}

	match := redirectRegex.FindStringSubmatch(body)
	if match == nil {
		return "", &sectionsense.ProtocolError{Step: "add courses", Reason: "sections page redirect not found"}
	}

	target, err := n.resolve(match[1])
	if err != nil {
		return "", &sectionsense.ProtocolError{Step: "add courses", Reason: "invalid redirect target", Err: err}
	}

	// 6. available sections page
	markup, err := n.get(ctx, client, "sections page", target, nil)
	if err != nil {
		return "", err
	}

	logger.Debug().Int("bytes", len(markup)).Msg("fetched sections page")

	return markup, nil
}

func (n *Navigator) newClient() (*resty.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate cookiejar: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(n.baseURL.String(), "/"))
	client.SetCookieJar(jar)
	client.SetTimeout(n.cfg.Timeout)
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(redirectLimit), resty.DomainCheckRedirectPolicy(n.baseURL.Hostname()))
	if n.cfg.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	client.SetHeaders(n.cfg.Headers)
	client.SetHeader("User-Agent", n.cfg.UserAgent)

	return client, nil
}

func (n *Navigator) viewState(ctx context.Context, client *resty.Client, step, path string) (string, error) {
	body, err := n.get(ctx, client, step, path, nil)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(body))
	if err != nil {
		return "", &sectionsense.ProtocolError{Step: step, Reason: "unparseable page", Err: err}
	}

	token, ok := doc.Find(`input[name="` + viewStateField + `"]`).First().Attr("value")
	if !ok {
		return "", &sectionsense.ProtocolError{Step: step, Reason: "token not found"}
	}

	return token, nil
}

func (n *Navigator) get(ctx context.Context, client *resty.Client, step, path string, query map[string]string) (string, error) {
	res, err := client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return "", classify(step, err)
	}

	return res.String(), nil
}

func (n *Navigator) post(ctx context.Context, client *resty.Client, step, path string, form map[string]string) (string, error) {
	res, err := client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(path)
	if err != nil {
		return "", classify(step, err)
	}

	return res.String(), nil
}

// loginFailed looks for any configured marker in the login response, ignoring case
func (n *Navigator) loginFailed(body string) (string, bool) {
	lowered := strings.ToLower(body)
	for _, marker := range n.cfg.FailureMarkers {
		if strings.Contains(lowered, strings.ToLower(marker)) {
			return marker, true
		}
	}
	return "", false
}

// resolve turns the redirect target into a request path relative to the base url, absolute urls must stay on the portal host
func (n *Navigator) resolve(target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", err
	}

	if parsed.IsAbs() {
		if parsed.Hostname() != n.baseURL.Hostname() {
			return "", fmt.Errorf("redirect leaves the portal host: %s", parsed.Hostname())
		}
		return parsed.RequestURI(), nil
	}

	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return target, nil
}

func (n *Navigator) cacheBuster() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return strconv.FormatFloat(n.rand.Float64(), 'f', -1, 64)
}

func classify(step string, err error) error {
	if errors.Is(err, errRedirectLoop) {
		return &sectionsense.ProtocolError{Step: step, Reason: "redirect loop", Err: err}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &sectionsense.TimeoutError{Step: step, Err: err}
	}
	return &sectionsense.NetworkError{Step: step, Err: err}
}
