package marketclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenKind distinguishes the two OAuth credentials the sniper holds:
// the application token (client_credentials grant, used for reads) and
// the user token (refresh_token grant, used for bid placement).
type TokenKind string

const (
	TokenKindApp  TokenKind = "app"
	TokenKindUser TokenKind = "user"
)

// ErrInvalidGrant is the fatal, non-retryable condition SPEC_FULL §4.7
// calls out: a rejected refresh token. There is no automatic re-auth loop;
// this must be surfaced to operators.
var ErrInvalidGrant = errors.New("marketclient: refresh token invalid or revoked (invalid_grant)")

// token is one OAuth credential's current state.
type token struct {
	mu           sync.RWMutex
	accessToken  string
	expiresAt    time.Time
	refreshToken string // only meaningful for TokenKindUser
}

func (t *token) snapshot() (access string, expiresAt time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accessToken, t.expiresAt
}

// CredentialManager refreshes the application and user OAuth tokens ahead
// of expiry, single-flighted per token kind (SPEC_FULL §4.7). Grounded on
// ebay_client.py's refresh_app_token/refresh_user_token/_ensure_token_valid.
type CredentialManager struct {
	httpClient   *http.Client
	tokenURL     string
	appID        string
	certID       string
	refreshSkew  time.Duration // tokens refresh when expiresAt <= now+refreshSkew
	clock        Clock

	app  *token
	user *token

	sf singleflight.Group
}

// NewCredentialManager constructs a manager seeded with an initial user
// refresh token (obtained out-of-band, e.g. via a one-time CLI auth flow —
// out of scope for this core per SPEC_FULL §1).
func NewCredentialManager(httpClient *http.Client, tokenURL, appID, certID, initialUserRefreshToken string, clock Clock) *CredentialManager {
	if clock == nil {
		clock = RealClock
	}
	return &CredentialManager{
		httpClient:  httpClient,
		tokenURL:    tokenURL,
		appID:       appID,
		certID:      certID,
		refreshSkew: 300 * time.Second,
		clock:       clock,
		app:         &token{},
		user:        &token{refreshToken: initialUserRefreshToken},
	}
}

// AppToken returns a valid application access token, refreshing first if
// it is within refreshSkew of expiry.
func (m *CredentialManager) AppToken(ctx context.Context) (string, error) {
	return m.ensure(ctx, TokenKindApp)
}

// UserToken returns a valid user access token, refreshing first if needed.
func (m *CredentialManager) UserToken(ctx context.Context) (string, error) {
	return m.ensure(ctx, TokenKindUser)
}

// EnsureUserTokenFor preemptively refreshes the user token if it would
// expire before deadline - 300s, per SPEC_FULL §4.7's scheduler-side
// preemptive refresh ahead of the bid window.
func (m *CredentialManager) EnsureUserTokenFor(ctx context.Context, deadline time.Time) error {
	_, expiresAt := m.user.snapshot()
	if expiresAt.IsZero() || expiresAt.Before(deadline.Add(-300*time.Second)) {
		_, err, _ := m.sf.Do(string(TokenKindUser), func() (any, error) {
			return m.refresh(ctx, TokenKindUser)
		})
		return err
	}
	return nil
}

func (m *CredentialManager) ensure(ctx context.Context, kind TokenKind) (string, error) {
	t := m.tokenFor(kind)
	access, expiresAt := t.snapshot()
	now := m.clock.Now()
	if access != "" && now.Before(expiresAt.Add(-m.refreshSkew)) {
		return access, nil
	}

	v, err, _ := m.sf.Do(string(kind), func() (any, error) {
		return m.refresh(ctx, kind)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *CredentialManager) tokenFor(kind TokenKind) *token {
	if kind == TokenKindApp {
		return m.app
	}
	return m.user
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
}

func (m *CredentialManager) refresh(ctx context.Context, kind TokenKind) (string, error) {
	form := url.Values{}
	form.Set("scope", "https://api.ebay.com/oauth/api_scope")
	if kind == TokenKindApp {
		form.Set("grant_type", "client_credentials")
	} else {
		refreshToken := m.user.refreshTokenValue()
		if refreshToken == "" {
			return "", errors.New("marketclient: no user refresh token configured")
		}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+basicAuth(m.appID, m.certID))

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("marketclient: token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	_ = json.NewDecoder(resp.Body).Decode(&tr)

	if resp.StatusCode == http.StatusBadRequest {
		if tr.Error == "invalid_grant" {
			return "", ErrInvalidGrant
		}
		if tr.Error == "invalid_client" {
			return "", fmt.Errorf("marketclient: invalid client credentials (app_id=%s)", maskKey(m.appID))
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("marketclient: token refresh returned status %d", resp.StatusCode)
	}
	if tr.AccessToken == "" {
		return "", errors.New("marketclient: token refresh response missing access_token")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 7200
	}
	expiresAt := m.clock.Now().Add(time.Duration(expiresIn) * time.Second)

	t := m.tokenFor(kind)
	t.mu.Lock()
	t.accessToken = tr.AccessToken
	t.expiresAt = expiresAt
	if kind == TokenKindUser && tr.RefreshToken != "" {
		// eBay may rotate the refresh token on use; the new one replaces
		// the stored one in memory only, so a restart starts again from
		// the refresh token passed to NewCredentialManager.
		t.refreshToken = tr.RefreshToken
	}
	t.mu.Unlock()

	return tr.AccessToken, nil
}

func (t *token) refreshTokenValue() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refreshToken
}

func basicAuth(id, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))
}
