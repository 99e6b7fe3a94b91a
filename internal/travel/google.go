package travel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/raphaelgruber/tripsync-go/internal/metrics"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// DefaultGoogleBaseURL is the Google Maps Platform API host.
const DefaultGoogleBaseURL = "https://maps.googleapis.com"

// GoogleClient implements Provider and Geocoder using the Distance Matrix and Geocoding APIs.
type GoogleClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	metrics *metrics.Collector
	now     func() time.Time
}

// Compile-time checks that GoogleClient implements Provider and Geocoder.
var (
	_ Provider = (*GoogleClient)(nil)
	_ Geocoder = (*GoogleClient)(nil)
)

// NewGoogleClient creates a Google Maps client.
// If baseURL is empty, DefaultGoogleBaseURL is used.
func NewGoogleClient(apiKey, baseURL string, mc *metrics.Collector) (*GoogleClient, error) {
	if apiKey == "" {
		return nil, errors.New("google maps API key required")
	}
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}
	return &GoogleClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		metrics: mc,
		now:     time.Now,
	}, nil
}

type distanceMatrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Rows         []struct {
		Elements []struct {
			Status            string       `json:"status"`
			Duration          *valueObject `json:"duration,omitempty"`
			DurationInTraffic *valueObject `json:"duration_in_traffic,omitempty"`
			Distance          *valueObject `json:"distance,omitempty"`
		} `json:"elements"`
	} `json:"rows"`
}

type valueObject struct {
	Value float64 `json:"value"`
	Text  string  `json:"text"`
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Results      []struct {
		Geometry struct {
			Location Coordinates `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// ComputeTravel asks the Distance Matrix API for driving time and distance.
// The departure instant is only sent when it lies in the future; the API rejects past values.
func (c *GoogleClient) ComputeTravel(ctx context.Context, origin, destination string, departure time.Time) (Result, error) {
	defer c.metrics.Since(metrics.OpTravelCompute)()

	params := url.Values{}
	params.Set("origins", origin)
	params.Set("destinations", destination)
	params.Set("mode", "driving")
	params.Set("units", "metric")
	params.Set("key", c.apiKey)
	if departure.After(c.now()) {
		params.Set("departure_time", strconv.FormatInt(departure.Unix(), 10))
	}

	var resp distanceMatrixResponse
	if err := c.get(ctx, "/maps/api/distancematrix/json", params, &resp); err != nil {
		return Result{}, err
	}
	if resp.Status != "OK" {
		return Result{}, fmt.Errorf("%w: distance matrix status %s %s", models.ErrProviderFailure, resp.Status, resp.ErrorMessage)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return Result{}, fmt.Errorf("%w: distance matrix returned no elements", models.ErrProviderFailure)
	}

	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return Result{}, fmt.Errorf("%w: route status %s", models.ErrProviderFailure, el.Status)
	}
	duration := el.Duration
	if el.DurationInTraffic != nil {
		duration = el.DurationInTraffic
	}
	if duration == nil || el.Distance == nil {
		return Result{}, fmt.Errorf("%w: route missing duration or distance", models.ErrProviderFailure)
	}

	return Result{
		Minutes:    int(math.Round(duration.Value / 60)),
		Kilometers: math.Round(el.Distance.Value/100) / 10,
	}, nil
}

// Geocode resolves an address with the Geocoding API, returning the first match.
func (c *GoogleClient) Geocode(ctx context.Context, address string) (Coordinates, error) {
	defer c.metrics.Since(metrics.OpGeocode)()

	params := url.Values{}
	params.Set("address", address)
	params.Set("key", c.apiKey)

	var resp geocodeResponse
	if err := c.get(ctx, "/maps/api/geocode/json", params, &resp); err != nil {
		return Coordinates{}, err
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		return Coordinates{}, fmt.Errorf("%w: geocode status %s %s", models.ErrProviderFailure, resp.Status, resp.ErrorMessage)
	}
	return resp.Results[0].Geometry.Location, nil
}

func (c *GoogleClient) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// *url.Error embeds the request URL, which carries the API key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("%w: %s %s: %v", models.ErrProviderFailure, uerr.Op, path, uerr.Err)
		}
		return fmt.Errorf("%w: %s: %v", models.ErrProviderFailure, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", models.ErrProviderFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s - %s", models.ErrProviderFailure, resp.Status, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", models.ErrProviderFailure, err)
	}
	return nil
}
