// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package bls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/statfeed/statfeed/lib/retry"
	"github.com/statfeed/statfeed/lib/version"
)

// fakeAPI serves the time series endpoint from a generator and
// records every request it receives.
type fakeAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []apiRequest
	agents   []string
}

// newFakeAPI returns an API producing, for each requested series and
// year, the data points produce returns.
func newFakeAPI(t *testing.T, produce func(seriesID string, year int) []DataPoint) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad request shape", http.StatusBadRequest)
			return
		}
		var request apiRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		api.mu.Lock()
		api.requests = append(api.requests, request)
		api.agents = append(api.agents, r.Header.Get("User-Agent"))
		api.mu.Unlock()

		start, _ := strconv.Atoi(request.StartYear)
		end, _ := strconv.Atoi(request.EndYear)
		var response apiResponse
		response.Status = StatusSucceeded
		for _, id := range request.SeriesIDs {
			series := Series{SeriesID: id}
			// Newest first, as the API orders data.
			for year := end; year >= start; year-- {
				series.Data = append(series.Data, produce(id, year)...)
			}
			response.Results.Series = append(response.Results.Series, series)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) recorded() []apiRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]apiRequest(nil), a.requests...)
}

func testClient(t *testing.T, url string, configure func(*Config)) *Client {
	t.Helper()
	config := Config{URL: url, Key: "test-key", RequestsPerSecond: 1000, Burst: 100}
	if configure != nil {
		configure(&config)
	}
	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func monthlyPoints(year int, months int, value string) []DataPoint {
	var points []DataPoint
	for month := months; month >= 1; month-- {
		points = append(points, DataPoint{
			Year:   strconv.Itoa(year),
			Period: fmt.Sprintf("M%02d", month),
			Value:  value,
		})
	}
	return points
}

func TestFetchSingleRequest(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t, func(id string, year int) []DataPoint {
		return monthlyPoints(year, 2, "1,000.5")
	})
	client := testClient(t, api.server.URL, nil)

	series, err := client.Fetch(context.Background(), Request{
		SeriesIDs: []string{"LNS14000000", "CEU0000000001"},
		StartYear: 2023,
		EndYear:   2024,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(series) != 2 || series[0].SeriesID != "LNS14000000" || series[1].SeriesID != "CEU0000000001" {
		t.Fatalf("series = %+v", series)
	}
	if len(series[0].Data) != 4 {
		t.Errorf("LNS14000000 has %d points, want 4", len(series[0].Data))
	}

	requests := api.recorded()
	if len(requests) != 1 {
		t.Fatalf("made %d requests, want 1", len(requests))
	}
	request := requests[0]
	if request.StartYear != "2023" || request.EndYear != "2024" || request.RegistrationKey != "test-key" {
		t.Errorf("request = %+v", request)
	}
	if api.agents[0] != version.UserAgent() {
		t.Errorf("User-Agent = %q, want %q", api.agents[0], version.UserAgent())
	}
}

func TestFetchSplitsSeriesAndYears(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t, func(id string, year int) []DataPoint {
		return monthlyPoints(year, 1, "1")
	})
	client := testClient(t, api.server.URL, func(config *Config) {
		config.MaxSeriesPerRequest = 2
		config.MaxYearsPerRequest = 3
	})

	series, err := client.Fetch(context.Background(), Request{
		SeriesIDs: []string{"A", "B", "C", "A"},
		StartYear: 2015,
		EndYear:   2020,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("got %d series, want 3 (duplicates collapsed)", len(series))
	}
	for _, result := range series {
		if len(result.Data) != 6 {
			t.Errorf("series %s has %d points, want one per year", result.SeriesID, len(result.Data))
		}
	}

	requests := api.recorded()
	if len(requests) != 4 {
		t.Fatalf("made %d requests, want 2 series chunks x 2 year chunks", len(requests))
	}
	var shapes []string
	for _, request := range requests {
		shapes = append(shapes, strings.Join(request.SeriesIDs, "+")+":"+request.StartYear+"-"+request.EndYear)
	}
	want := "A+B:2015-2017,A+B:2018-2020,C:2015-2017,C:2018-2020"
	if got := strings.Join(shapes, ","); got != want {
		t.Errorf("requests = %s, want %s", got, want)
	}
}

func TestFetchOmitsEmptyKey(t *testing.T) {
	t.Parallel()
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		fmt.Fprint(w, `{"status":"REQUEST_SUCCEEDED","Results":{"series":[]}}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL, func(config *Config) { config.Key = "" })
	if _, err := client.Fetch(context.Background(), Request{SeriesIDs: []string{"A"}, StartYear: 2024, EndYear: 2024}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, exists := raw["registrationkey"]; exists {
		t.Error("anonymous request carried a registrationkey field")
	}
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"not processed", http.StatusOK, `{"status":"REQUEST_NOT_PROCESSED","message":["daily threshold reached"]}`, true},
		{"client error", http.StatusBadRequest, "bad", true},
		{"server error", http.StatusBadGateway, "upstream down", false},
		{"rate limited", http.StatusTooManyRequests, "slow down", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				fmt.Fprint(w, test.body)
			}))
			defer server.Close()

			client := testClient(t, server.URL, nil)
			_, err := client.Fetch(context.Background(), Request{SeriesIDs: []string{"A"}, StartYear: 2024, EndYear: 2024})
			if !errors.Is(err, ErrRequestFailed) {
				t.Fatalf("err = %v, want ErrRequestFailed", err)
			}
			if permanent := retry.IsPermanent(err); permanent != test.permanent {
				t.Errorf("IsPermanent = %v, want %v", permanent, test.permanent)
			}
		})
	}
}

func TestFetchMalformedResponse(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	}))
	defer server.Close()

	client := testClient(t, server.URL, nil)
	if _, err := client.Fetch(context.Background(), Request{SeriesIDs: []string{"A"}, StartYear: 2024, EndYear: 2024}); err == nil {
		t.Fatal("Fetch accepted a non-JSON response")
	}
}

func TestFetchRejectsBadRequests(t *testing.T) {
	t.Parallel()
	client := testClient(t, "http://127.0.0.1:1", nil)
	if _, err := client.Fetch(context.Background(), Request{StartYear: 2024, EndYear: 2024}); err == nil {
		t.Error("Fetch accepted an empty series list")
	}
	if _, err := client.Fetch(context.Background(), Request{SeriesIDs: []string{"A"}, StartYear: 2025, EndYear: 2024}); err == nil {
		t.Error("Fetch accepted an inverted year range")
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(Config{URL: "not a url"}); err == nil {
		t.Error("NewClient accepted a URL without scheme and host")
	}
}

func TestFetchHonorsCancellation(t *testing.T) {
	t.Parallel()
	client := testClient(t, "http://127.0.0.1:1", func(config *Config) {
		config.RequestsPerSecond = 0.001
		config.Burst = 1
	})
	// Drain the single burst token so the next Wait must block.
	client.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Fetch(ctx, Request{SeriesIDs: []string{"A"}, StartYear: 2024, EndYear: 2024}); err == nil {
		t.Fatal("Fetch succeeded with a cancelled context")
	}
}
