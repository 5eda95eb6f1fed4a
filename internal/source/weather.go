package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// WeatherClient fetches daily weather readings for a fixed location from an
// open-meteo style archive API. The API returns the whole requested window in
// one response, so every fetch is a single page.
type WeatherClient struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	client    *http.Client
	// now is stubbed in tests to pin the fetch window.
	now func() time.Time
}

// NewWeatherClient creates a new weather client for the given coordinates.
func NewWeatherClient(baseURL string, latitude, longitude float64) *WeatherClient {
	return &WeatherClient{
		BaseURL:   baseURL,
		Latitude:  latitude,
		Longitude: longitude,
		client:    &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// Name returns the source name.
func (c *WeatherClient) Name() string {
	return "weather"
}

// weatherResponse mirrors the daily block of the archive endpoint.
type weatherResponse struct {
	Daily struct {
		Time             []string  `json:"time"`
		TemperatureMax   []float64 `json:"temperature_2m_max"`
		TemperatureMin   []float64 `json:"temperature_2m_min"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
		WeatherCode      []int     `json:"weather_code"`
	} `json:"daily"`
}

// FetchPage fetches one reading per day from since through today. The window
// is clamped to 90 days so a first sync against an empty watermark stays
// bounded.
func (c *WeatherClient) FetchPage(ctx context.Context, since time.Time, cursor string, limit int) (Page, error) {
	end := c.now().UTC()
	start := since.UTC()
	if start.IsZero() || end.Sub(start) > 90*24*time.Hour {
		start = end.AddDate(0, 0, -90)
	}

	u, err := url.Parse(fmt.Sprintf("%s/v1/archive", c.BaseURL))
	if err != nil {
		return Page{}, fmt.Errorf("%w: invalid base URL %q: %v", ErrBadConfig, c.BaseURL, err)
	}

	q := u.Query()
	q.Set("latitude", fmt.Sprintf("%g", c.Latitude))
	q.Set("longitude", fmt.Sprintf("%g", c.Longitude))
	q.Set("start_date", start.Format("2006-01-02"))
	q.Set("end_date", end.Format("2006-01-02"))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,weather_code")
	q.Set("timezone", "UTC")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch weather: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return Page{}, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Page{}, fmt.Errorf("failed to decode response: %w", err)
	}

	var page Page
	for i, day := range parsed.Daily.Time {
		fields := map[string]any{"date": day}
		if i < len(parsed.Daily.TemperatureMax) {
			fields["temperature_max"] = parsed.Daily.TemperatureMax[i]
		}
		if i < len(parsed.Daily.TemperatureMin) {
			fields["temperature_min"] = parsed.Daily.TemperatureMin[i]
		}
		if i < len(parsed.Daily.PrecipitationSum) {
			fields["precipitation_sum"] = parsed.Daily.PrecipitationSum[i]
		}
		if i < len(parsed.Daily.WeatherCode) {
			fields["weather_code"] = parsed.Daily.WeatherCode[i]
		}
		page.Items = append(page.Items, RawRecord{Kind: "weather", Fields: fields})
	}
	return page, nil
}
