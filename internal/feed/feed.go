// Package feed reads a ranked trending-repositories list.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"opsdesk/internal/remote"
)

const DefaultURL = "https://api.gitterapp.com/repositories"

// Repo is one ranked feed entry.
type Repo struct {
	FullName   string `json:"full_name"`
	Owner      string `json:"owner"`
	URL        string `json:"url"`
	StarsToday int    `json:"stars_today"`
	TotalStars int    `json:"total_stars"`
}

type entry struct {
	Author             string `json:"author"`
	Name               string `json:"name"`
	URL                string `json:"url"`
	Stars              int    `json:"stars"`
	CurrentPeriodStars int    `json:"currentPeriodStars"`
}

type APIError = remote.APIError

// Client fetches the trending feed.
type Client struct {
	url    string
	caller remote.Caller
}

func New(feedURL string, httpClient *http.Client) *Client {
	if feedURL == "" {
		feedURL = DefaultURL
	}
	return &Client{
		url:    feedURL,
		caller: remote.Caller{Service: "feed", HTTPClient: httpClient, Timeout: 30 * time.Second},
	}
}

// FetchDailyTrending returns the feed's entries in the order served.
func (c *Client) FetchDailyTrending(ctx context.Context, language, spokenLanguage, period string) ([]Repo, error) {
	q := url.Values{}
	q.Set("language", language)
	q.Set("since", period)
	q.Set("spoken_language_code", spokenLanguage)
	endpoint := c.url
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + q.Encode()
	} else {
		endpoint += "?" + q.Encode()
	}
	var entries []entry
	if err := c.caller.Do(ctx, "trending", http.MethodGet, endpoint, nil, &entries); err != nil {
		return nil, fmt.Errorf("fetch trending feed: %w", err)
	}
	out := make([]Repo, 0, len(entries))
	for _, e := range entries {
		if e.Author == "" || e.Name == "" {
			return nil, fmt.Errorf("feed entry %q has no owner or name", e.URL)
		}
		out = append(out, Repo{
			FullName:   e.Author + "/" + e.Name,
			Owner:      e.Author,
			URL:        e.URL,
			StarsToday: e.CurrentPeriodStars,
			TotalStars: e.Stars,
		})
	}
	return out, nil
}
