package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var providerFailureCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "provider_fetch_failures",
}, []string{"provider"})

const (
	defaultShareCountHost = "https://api.sharedcount.com"
	defaultAnalyticsHost  = "https://analytics.bencole.net"
)

// ProviderClient talks to the external metric providers. Every fetch is
// best effort: transport failures and malformed responses degrade to
// absent values, never to a hard error for the caller's whole cycle.
type ProviderClient struct {
	shareCountHost string
	analyticsHost  string

	client  *http.Client
	limiter *rate.Limiter
}

func NewProviderClient() *ProviderClient {
	return &ProviderClient{
		shareCountHost: defaultShareCountHost,
		analyticsHost:  defaultAnalyticsHost,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		// keeps a collapsed backfill burst under the providers' limits
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// sharedCountResponse mirrors the sharedcount.com payload. Facebook nests
// its total, everything else is a bare count. Missing fields decode to
// zero, which downstream treats as absent.
type sharedCountResponse struct {
	Facebook struct {
		TotalCount int64 `json:"total_count"`
	} `json:"Facebook"`
	Twitter       int64 `json:"Twitter"`
	GooglePlusOne int64 `json:"GooglePlusOne"`
	LinkedIn      int64 `json:"LinkedIn"`
	Pinterest     int64 `json:"Pinterest"`
	Diggs         int64 `json:"Diggs"`
	Delicious     int64 `json:"Delicious"`
	Reddit        int64 `json:"Reddit"`
	StumbleUpon   int64 `json:"StumbleUpon"`
}

// FetchShareCounts queries all share providers for one canonical URL and
// returns a metric -> count mapping covering every known provider.
func (p *ProviderClient) FetchShareCounts(ctx context.Context, pageURL string) (map[string]int64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/?url=%s", p.shareCountHost, url.QueryEscape(pageURL))
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}

	res, err := p.client.Do(req)
	if err != nil {
		providerFailureCounter.WithLabelValues("sharedcount").Inc()
		return nil, fmt.Errorf("share count fetch failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		providerFailureCounter.WithLabelValues("sharedcount").Inc()
		return nil, fmt.Errorf("share count fetch returned status %d", res.StatusCode)
	}

	var sc sharedCountResponse
	if err := json.NewDecoder(res.Body).Decode(&sc); err != nil {
		providerFailureCounter.WithLabelValues("sharedcount").Inc()
		return nil, fmt.Errorf("failed to decode share count response: %w", err)
	}

	return map[string]int64{
		MetricFacebook:    sc.Facebook.TotalCount,
		MetricTwitter:     sc.Twitter,
		MetricGooglePlus:  sc.GooglePlusOne,
		MetricLinkedIn:    sc.LinkedIn,
		MetricPinterest:   sc.Pinterest,
		MetricDiggs:       sc.Diggs,
		MetricDelicious:   sc.Delicious,
		MetricReddit:      sc.Reddit,
		MetricStumbleUpon: sc.StumbleUpon,
	}, nil
}

type pageviewsResponse struct {
	Pageviews int64 `json:"pageviews"`
}

// FetchPageviews queries the analytics provider for one URL using the
// configured opaque credential.
func (p *ProviderClient) FetchPageviews(ctx context.Context, pageURL string, token string) (int64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	reqURL := fmt.Sprintf("%s/v1/pageviews?url=%s", p.analyticsHost, url.QueryEscape(pageURL))
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := p.client.Do(req)
	if err != nil {
		providerFailureCounter.WithLabelValues("analytics").Inc()
		return 0, fmt.Errorf("pageview fetch failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		providerFailureCounter.WithLabelValues("analytics").Inc()
		return 0, fmt.Errorf("pageview fetch returned status %d", res.StatusCode)
	}

	var pv pageviewsResponse
	if err := json.NewDecoder(res.Body).Decode(&pv); err != nil {
		providerFailureCounter.WithLabelValues("analytics").Inc()
		return 0, fmt.Errorf("failed to decode pageview response: %w", err)
	}

	return pv.Pageviews, nil
}
