package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"runclub-milestones/internal/metrics"
)

const (
	defaultBaseURL  = "https://www.strava.com/api/v3"
	defaultTokenURL = "https://www.strava.com/oauth/token"

	// Client-side pacing: Strava's overall limit is 100 requests per 15
	// minutes for small apps, so one request every ~10s sustained with a
	// small burst keeps a worker run comfortably inside it.
	paceInterval = 10 * time.Second
	paceBurst    = 5
)

// Client is a Strava API client. Retries are deliberately not handled here:
// the queue worker owns retry policy, so every HTTP outcome maps to exactly
// one error value.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewClient creates a new Strava API client
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		limiter:      rate.NewLimiter(rate.Every(paceInterval), paceBurst),
		logger:       slog.Default(),
	}
}

// SetBaseURL overrides the API base URL (tests)
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// SetTokenURL overrides the token endpoint URL (tests)
func (c *Client) SetTokenURL(u string) {
	c.tokenURL = u
}

// TokenResponse represents the response from a token exchange or refresh
type TokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    int64           `json:"expires_at"`
	ExpiresIn    int             `json:"expires_in"`
	Athlete      json.RawMessage `json:"athlete,omitempty"`
}

// Activity is the subset of activity metadata the pipeline needs
type Activity struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	SportType  string    `json:"sport_type"`
	Distance   float64   `json:"distance"`
	MovingTime int       `json:"moving_time"`
	StartDate  time.Time `json:"start_date"`
}

// Stream is an index-aligned pair of cumulative time and distance series
type Stream struct {
	Time     []float64
	Distance []float64
}

// ExchangeCode exchanges an authorization code for access and refresh tokens
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	return c.tokenGrant(ctx, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
	}, metrics.OpExchangeCode)
}

// RefreshToken refreshes an access token using a refresh token
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.tokenGrant(ctx, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}, metrics.OpRefreshToken)
}

func (c *Client) tokenGrant(ctx context.Context, form url.Values, operation string) (*TokenResponse, error) {
	grantType := form.Get("grant_type")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = form.Encode()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("token grant failed", "grant_type", grantType, "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("token grant failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("token_grant", "grant_type", grantType, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
	metrics.StravaAPIRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()

	if err := translateStatus(resp); err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &tokenResp, nil
}

// GetActivity fetches metadata for a single activity
func (c *Client) GetActivity(ctx context.Context, activityID int64, accessToken string) (*Activity, error) {
	body, err := c.doRequest(ctx, fmt.Sprintf("/activities/%d", activityID), accessToken, metrics.OpGetActivity)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %d: %w", activityID, err)
	}

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity %d: %w", activityID, err)
	}

	return &activity, nil
}

// streamSet matches Strava's key_by_type=true stream response shape
type streamSet struct {
	Time struct {
		Data []float64 `json:"data"`
	} `json:"time"`
	Distance struct {
		Data []float64 `json:"data"`
	} `json:"distance"`
}

// GetActivityStreams fetches the time and distance series for an activity
func (c *Client) GetActivityStreams(ctx context.Context, activityID int64, accessToken string) (*Stream, error) {
	path := fmt.Sprintf("/activities/%d/streams?keys=time,distance&key_by_type=true", activityID)
	body, err := c.doRequest(ctx, path, accessToken, metrics.OpGetStreams)
	if err != nil {
		return nil, fmt.Errorf("failed to get streams for activity %d: %w", activityID, err)
	}

	var set streamSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal streams for activity %d: %w", activityID, err)
	}

	return &Stream{Time: set.Time.Data, Distance: set.Distance.Data}, nil
}

// doRequest performs a single authenticated GET against the API. The rate
// limiter paces outbound calls; a 429 that slips through anyway comes back
// as *RateLimitError for the worker to handle.
func (c *Client) doRequest(ctx context.Context, path, accessToken, operation string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("request failed", "path", path, "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("strava_api_request", "path", path, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
	metrics.StravaAPIRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
	metrics.StravaAPIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())

	if err := translateStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}

// translateStatus maps a non-2xx response to the error taxonomy
func translateStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{ResetAt: parseRetryAfter(resp.Header)}
	}

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
}

// parseRetryAfter derives an absolute reset time from the Retry-After header
func parseRetryAfter(headers http.Header) *time.Time {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return nil
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err != nil {
		return nil
	}

	t := time.Now().Add(time.Duration(seconds) * time.Second)
	return &t
}
