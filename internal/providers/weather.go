package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultOpenWeatherBase = "https://api.openweathermap.org"

// WeatherReport is current conditions for one city.
type WeatherReport struct {
	City        string
	Description string
	TempC       float64
	FeelsLikeC  float64
	Humidity    int
}

// OpenWeather fetches current conditions from the OpenWeatherMap API.
type OpenWeather struct {
	base   string
	apiKey string
	http   *http.Client
}

func NewOpenWeather(apiKey string, base string) *OpenWeather {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultOpenWeatherBase
	}
	return &OpenWeather{
		base:   base,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *OpenWeather) Current(ctx context.Context, city string) (WeatherReport, error) {
	q := url.Values{
		"q":     {city},
		"appid": {w.apiKey},
		"units": {"metric"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		w.base+"/data/2.5/weather?"+q.Encode(), nil)
	if err != nil {
		return WeatherReport{}, err
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return WeatherReport{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return WeatherReport{}, fmt.Errorf("weather api returned status %d", resp.StatusCode)
	}

	var body struct {
		Name    string `json:"name"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return WeatherReport{}, fmt.Errorf("weather response decode: %w", err)
	}

	rep := WeatherReport{
		City:       body.Name,
		TempC:      body.Main.Temp,
		FeelsLikeC: body.Main.FeelsLike,
		Humidity:   body.Main.Humidity,
	}
	if rep.City == "" {
		rep.City = city
	}
	if len(body.Weather) > 0 {
		rep.Description = body.Weather[0].Description
	}
	return rep, nil
}
