package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/dropsminer/internal/miner"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

// DefaultURL is the public Twitch GQL endpoint.
const DefaultURL = "https://gql.twitch.tv/gql"

const (
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxResponseSize = 4 << 20
)

const inventoryQuery = `query DropsEntitlementStatus {
  currentUser {
    id
    drops(first: 100) {
      edges {
        node {
          id
          entitlementId
          isClaimed
          isClaimable
          name
          requiredMinutesWatched
          minutesWatched
          game { id name }
          campaign {
            id title status
            allow { channels { id name } }
          }
        }
      }
    }
  }
}`

const claimMutation = `mutation FulfillDropReward($input: FulfillDropRewardInput!) {
  fulfillDropReward(input: $input) {
    drop { id isClaimed }
  }
}`

const watchMutation = `mutation ReportStreamWatch($input: ReportStreamWatchInput!) {
  reportStreamWatch(input: $input) {
    success
  }
}`

// Config configures a GQL client for one account.
type Config struct {
	URL               string
	ClientID          string
	Token             string
	Timeout           time.Duration
	RequestsPerWindow int
	Window            time.Duration
	HTTPClient        *http.Client
}

// Client talks to the Twitch GQL API on behalf of one account. It implements
// miner.Client and miner.Watcher.
type Client struct {
	url        string
	clientID   string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu      sync.Mutex
	pending map[string]campaignDrops // campaign id -> drops seen on the last fetch
}

var _ miner.Watcher = (*Client)(nil)

type campaignDrops struct {
	unclaimed []string // drop instance ids earned but not yet claimed
	claimed   int
	total     int
	channels  []channel // channels the campaign credits watch time on
}

type channel struct {
	id    string
	login string
}

// NewClient creates a client. Requests are paced to RequestsPerWindow per Window.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("twitch: token is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("twitch: client id is required")
	}
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerWindow > 0 && cfg.Window > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.RequestsPerWindow)), cfg.RequestsPerWindow)
	}

	return &Client{
		url:        url,
		clientID:   strings.TrimSpace(cfg.ClientID),
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		limiter:    limiter,
		pending:    make(map[string]campaignDrops),
	}, nil
}

// FetchCampaigns loads the account's drops inventory and folds it into one
// campaign per drop campaign. Failures are returned as *miner.FetchError.
func (c *Client) FetchCampaigns(ctx context.Context) ([]model.Campaign, error) {
	data, err := c.query(ctx, "DropsEntitlementStatus", inventoryQuery, nil)
	if err != nil {
		return nil, err
	}
	user := data.Get("currentUser")
	if !user.Exists() || user.Type == gjson.Null {
		return nil, miner.NewFetchError(miner.FetchAuth, errors.New("token is not bound to a user"))
	}

	campaigns, drops := foldInventory(user.Get("drops.edges"))

	c.mu.Lock()
	c.pending = drops
	c.mu.Unlock()
	return campaigns, nil
}

// Claim fulfills every earned, unclaimed drop of the campaign seen on the last
// fetch. Rejections come back as a failed ClaimResult, transport and API
// failures as *miner.ClaimError.
func (c *Client) Claim(ctx context.Context, campaignID string) (miner.ClaimResult, error) {
	c.mu.Lock()
	drops, ok := c.pending[campaignID]
	c.mu.Unlock()
	if !ok {
		return miner.ClaimResult{Reason: "campaign not in inventory"}, nil
	}
	if len(drops.unclaimed) == 0 {
		if drops.total > 0 && drops.claimed == drops.total {
			return miner.ClaimResult{Success: true, Reason: "already claimed"}, nil
		}
		return miner.ClaimResult{Reason: "no claimable drops"}, nil
	}

	var rejected []string
	for _, dropID := range drops.unclaimed {
		vars := map[string]any{"input": map[string]any{"dropInstanceID": dropID}}
		data, err := c.query(ctx, "FulfillDropReward", claimMutation, vars)
		if err != nil {
			return miner.ClaimResult{}, &miner.ClaimError{Reason: "fulfill drop " + dropID, Err: err}
		}
		if !data.Get("fulfillDropReward.drop.isClaimed").Bool() {
			rejected = append(rejected, dropID)
		}
	}

	c.mu.Lock()
	if cur, ok := c.pending[campaignID]; ok {
		cur.claimed += len(cur.unclaimed) - len(rejected)
		cur.unclaimed = rejected
		c.pending[campaignID] = cur
	}
	c.mu.Unlock()

	if len(rejected) > 0 {
		return miner.ClaimResult{Reason: fmt.Sprintf("%d drop(s) not fulfilled: %s", len(rejected), strings.Join(rejected, ","))}, nil
	}
	return miner.ClaimResult{Success: true}, nil
}

// Watch sends one watch heartbeat for the first channel the campaign allows
// and returns that channel's login. It returns "" without a request when the
// last fetch listed no channel for the campaign.
func (c *Client) Watch(ctx context.Context, campaignID string) (string, error) {
	c.mu.Lock()
	drops, ok := c.pending[campaignID]
	c.mu.Unlock()
	if !ok || len(drops.channels) == 0 {
		return "", nil
	}
	ch := drops.channels[0]

	vars := map[string]any{"input": map[string]any{"channelID": ch.id}}
	data, err := c.query(ctx, "ReportStreamWatch", watchMutation, vars)
	if err != nil {
		return "", err
	}
	if !data.Get("reportStreamWatch.success").Bool() {
		return "", miner.NewFetchError(miner.FetchRemote, fmt.Errorf("watch heartbeat on %s rejected", ch.login))
	}
	return ch.login, nil
}

// foldInventory groups drop nodes by campaign, preserving the order in which
// campaigns first appear.
func foldInventory(edges gjson.Result) ([]model.Campaign, map[string]campaignDrops) {
	var (
		order     []string
		campaigns = make(map[string]*model.Campaign)
		drops     = make(map[string]campaignDrops)
	)
	edges.ForEach(func(_, edge gjson.Result) bool {
		node := edge.Get("node")
		id := strings.TrimSpace(node.Get("campaign.id").String())
		if id == "" {
			return true
		}
		camp, ok := campaigns[id]
		if !ok {
			camp = &model.Campaign{ID: id, GameTitle: node.Get("game.name").String()}
			campaigns[id] = camp
			order = append(order, id)
		}

		required := node.Get("requiredMinutesWatched").Int()
		watched := node.Get("minutesWatched").Int()
		if watched > required {
			watched = required
		}
		claimed := node.Get("isClaimed").Bool()
		earned := claimed || watched >= required

		camp.TotalRewards++
		camp.TotalSeconds += required * 60
		camp.ProgressSeconds += watched * 60
		if claimed {
			camp.ProgressSeconds += (required - watched) * 60
		}
		if earned {
			camp.ClaimedRewards++
		}

		cd := drops[id]
		if cd.channels == nil {
			cd.channels = allowedChannels(node.Get("campaign.allow.channels"))
		}
		cd.total++
		switch {
		case claimed:
			cd.claimed++
		case earned || node.Get("isClaimable").Bool():
			instance := node.Get("entitlementId").String()
			if instance == "" {
				instance = node.Get("id").String()
			}
			cd.unclaimed = append(cd.unclaimed, instance)
		}
		drops[id] = cd
		return true
	})

	out := make([]model.Campaign, 0, len(order))
	for _, id := range order {
		out = append(out, *campaigns[id])
	}
	return out, drops
}

func allowedChannels(list gjson.Result) []channel {
	var out []channel
	list.ForEach(func(_, ch gjson.Result) bool {
		login := ch.Get("name").String()
		id := ch.Get("id").String()
		if id == "" {
			id = login
		}
		if login == "" {
			login = id
		}
		if id != "" {
			out = append(out, channel{id: id, login: login})
		}
		return true
	})
	return out
}

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

// query posts a GQL operation and returns its data object. Every failure is
// returned as *miner.FetchError.
func (c *Client) query(ctx context.Context, operation, query string, vars map[string]any) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, miner.NewFetchError(miner.FetchNetwork, fmt.Errorf("wait for request slot: %w", err))
	}
	if vars == nil {
		vars = map[string]any{}
	}
	body, err := json.Marshal(gqlRequest{OperationName: operation, Query: query, Variables: vars})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Client-ID", c.clientID)
	req.Header.Set("Authorization", "OAuth "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, miner.NewFetchError(miner.FetchNetwork, fmt.Errorf("%s: %w", operation, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return gjson.Result{}, miner.NewFetchError(miner.FetchNetwork, fmt.Errorf("%s: read response: %w", operation, err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gjson.Result{}, miner.NewFetchError(miner.FetchAuth, fmt.Errorf("%s: status %d", operation, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return gjson.Result{}, miner.NewFetchError(miner.FetchRateLimit, fmt.Errorf("%s: status %d", operation, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return gjson.Result{}, miner.NewFetchError(miner.FetchRemote, fmt.Errorf("%s: status %d", operation, resp.StatusCode))
	}

	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, miner.NewFetchError(miner.FetchRemote, fmt.Errorf("%s: invalid json response", operation))
	}
	parsed := gjson.ParseBytes(raw)
	if errs := parsed.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		msg := errs.Get("0.message").String()
		if isAuthError(msg) {
			return gjson.Result{}, miner.NewFetchError(miner.FetchAuth, fmt.Errorf("%s: %s", operation, msg))
		}
		return gjson.Result{}, miner.NewFetchError(miner.FetchRemote, fmt.Errorf("%s: %s", operation, msg))
	}
	return parsed.Get("data"), nil
}

func isAuthError(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "unauthorized") || strings.Contains(msg, "unauthenticated")
}
