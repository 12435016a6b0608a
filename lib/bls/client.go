// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

// Package bls is a client for the Bureau of Labor Statistics public
// time series API (v2), plus the fetch-and-merge and raw collection
// operations built on it.
//
// One API request names at most MaxSeriesPerRequest series and spans
// at most MaxYearsPerRequest years; [Client.Fetch] splits larger
// requests and reassembles the results per series. Requests are paced
// by a token-bucket limiter so a long backfill stays under the API's
// rate limits.
package bls

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/statfeed/statfeed/lib/netutil"
	"github.com/statfeed/statfeed/lib/retry"
	"github.com/statfeed/statfeed/lib/version"
)

// DefaultURL is the v2 time series endpoint.
const DefaultURL = "https://api.bls.gov/publicAPI/v2/timeseries/data/"

// API limits for registered users.
const (
	DefaultMaxSeriesPerRequest = 50
	DefaultMaxYearsPerRequest  = 20
)

// StatusSucceeded is the response status of a processed request.
const StatusSucceeded = "REQUEST_SUCCEEDED"

// ErrRequestFailed is wrapped by every error reporting a request the
// API did not process, whether rejected at the HTTP level or answered
// with a failure status.
var ErrRequestFailed = errors.New("bls: request failed")

// Config configures a Client.
type Config struct {
	// URL is the endpoint. Empty means DefaultURL.
	URL string

	// Key is the registration key. Empty sends anonymous requests,
	// which the API limits to fewer series and years.
	Key string

	// HTTPClient performs requests. Nil means a client with Timeout.
	HTTPClient *http.Client

	// Timeout bounds each request when HTTPClient is nil. Zero means
	// 30 seconds.
	Timeout time.Duration

	// RequestsPerSecond and Burst configure pacing. Zero rate means
	// one request per second; zero burst means 1.
	RequestsPerSecond float64
	Burst             int

	// MaxSeriesPerRequest and MaxYearsPerRequest bound each request.
	// Zero means the API defaults.
	MaxSeriesPerRequest int
	MaxYearsPerRequest  int

	// Logger receives request and API message logs. Nil discards.
	Logger *slog.Logger
}

// Client calls the time series API.
type Client struct {
	url        string
	key        string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxSeries  int
	maxYears   int
	logger     *slog.Logger
}

// NewClient validates config and returns a Client.
func NewClient(config Config) (*Client, error) {
	endpoint := config.URL
	if endpoint == "" {
		endpoint = DefaultURL
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("bls: invalid URL %q", endpoint)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	perSecond := config.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := max(config.Burst, 1)

	maxSeries := config.MaxSeriesPerRequest
	if maxSeries <= 0 {
		maxSeries = DefaultMaxSeriesPerRequest
	}
	maxYears := config.MaxYearsPerRequest
	if maxYears <= 0 {
		maxYears = DefaultMaxYearsPerRequest
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		url:        endpoint,
		key:        config.Key,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		maxSeries:  maxSeries,
		maxYears:   maxYears,
		logger:     logger,
	}, nil
}

// Request selects series and an inclusive year range.
type Request struct {
	SeriesIDs []string
	StartYear int
	EndYear   int
}

// Series is one time series in a response.
type Series struct {
	SeriesID string      `json:"seriesID"`
	Data     []DataPoint `json:"data"`
}

// DataPoint is one published value. All fields are text as the API
// sends them; Value may carry thousands separators or "-" when the
// value is unavailable.
type DataPoint struct {
	Year       string     `json:"year"`
	Period     string     `json:"period"`
	PeriodName string     `json:"periodName"`
	Latest     string     `json:"latest,omitempty"`
	Value      string     `json:"value"`
	Footnotes  []Footnote `json:"footnotes"`
}

// Footnote annotates a data point, for example "P" for preliminary.
type Footnote struct {
	Code string `json:"code,omitempty"`
	Text string `json:"text,omitempty"`
}

type apiRequest struct {
	SeriesIDs       []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

type apiResponse struct {
	Status       string   `json:"status"`
	ResponseTime int      `json:"responseTime"`
	Message      []string `json:"message"`
	Results      struct {
		Series []Series `json:"series"`
	} `json:"Results"`
}

// Fetch retrieves every requested series over the year range,
// splitting it across as many API requests as the limits require.
// The result holds one Series per requested ID, in request order,
// with data points from every chunk.
func (c *Client) Fetch(ctx context.Context, request Request) ([]Series, error) {
	if len(request.SeriesIDs) == 0 {
		return nil, errors.New("bls: no series requested")
	}
	if request.StartYear < 1 || request.EndYear < request.StartYear {
		return nil, fmt.Errorf("bls: invalid year range %d-%d", request.StartYear, request.EndYear)
	}

	collected := make(map[string]*Series, len(request.SeriesIDs))
	order := make([]string, 0, len(request.SeriesIDs))
	for _, id := range request.SeriesIDs {
		if _, exists := collected[id]; !exists {
			collected[id] = &Series{SeriesID: id}
			order = append(order, id)
		}
	}

	for seriesStart := 0; seriesStart < len(order); seriesStart += c.maxSeries {
		seriesChunk := order[seriesStart:min(seriesStart+c.maxSeries, len(order))]
		for startYear := request.StartYear; startYear <= request.EndYear; startYear += c.maxYears {
			endYear := min(startYear+c.maxYears-1, request.EndYear)
			series, err := c.fetchChunk(ctx, seriesChunk, startYear, endYear)
			if err != nil {
				return nil, err
			}
			for _, result := range series {
				target, exists := collected[result.SeriesID]
				if !exists {
					c.logger.Warn("response contains unrequested series", "series", result.SeriesID)
					continue
				}
				target.Data = append(target.Data, result.Data...)
			}
		}
	}

	results := make([]Series, 0, len(order))
	for _, id := range order {
		results = append(results, *collected[id])
	}
	return results, nil
}

func (c *Client) fetchChunk(ctx context.Context, seriesIDs []string, startYear, endYear int) ([]Series, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(apiRequest{
		SeriesIDs:       seriesIDs,
		StartYear:       strconv.Itoa(startYear),
		EndYear:         strconv.Itoa(endYear),
		RegistrationKey: c.key,
	})
	if err != nil {
		return nil, fmt.Errorf("bls: encoding request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("bls: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", version.UserAgent())

	c.logger.Debug("requesting series", "series", strings.Join(seriesIDs, ","), "start_year", startYear, "end_year", endYear)
	started := time.Now()
	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		// Network failures are transient; the step's retry policy
		// decides whether to try again.
		return nil, fmt.Errorf("bls: request for %d series (%d-%d): %w", len(seriesIDs), startYear, endYear, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		failure := fmt.Errorf("%w: HTTP %d: %s", ErrRequestFailed, response.StatusCode, netutil.ErrorBody(response.Body))
		if response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500 {
			return nil, failure
		}
		return nil, retry.Permanent(failure)
	}

	var decoded apiResponse
	if err := netutil.DecodeResponse(response.Body, &decoded); err != nil {
		return nil, fmt.Errorf("bls: %w", err)
	}
	c.logger.Debug("series response",
		"status", decoded.Status,
		"series", len(decoded.Results.Series),
		"elapsed", time.Since(started),
	)

	if decoded.Status != StatusSucceeded {
		// REQUEST_NOT_PROCESSED covers both exhausted daily quotas and
		// malformed requests; neither improves on an immediate retry.
		return nil, retry.Permanent(fmt.Errorf("%w: status %s: %s", ErrRequestFailed, decoded.Status, strings.Join(decoded.Message, "; ")))
	}
	for _, message := range decoded.Message {
		c.logger.Warn("bls api message", "message", message)
	}
	return decoded.Results.Series, nil
}
