package bots

import (
	"context"
	"fmt"
	"strings"

	"assistant/internal/providers"
	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

// WeatherProvider fetches current conditions for one city.
type WeatherProvider interface {
	Current(ctx context.Context, city string) (providers.WeatherReport, error)
}

// WeatherBot sends the daily weather briefing.
type WeatherBot struct {
	store    Store
	notifier Notifier
	weather  WeatherProvider
	city     string
	log      logx.Logger
}

func NewWeatherBot(store Store, notifier Notifier, weather WeatherProvider, city string, log logx.Logger) *WeatherBot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(city) == "" {
		city = "Seoul"
	}
	return &WeatherBot{store: store, notifier: notifier, weather: weather, city: city, log: log}
}

func (b *WeatherBot) Run(ctx context.Context) error {
	user, err := b.store.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("weather: load user: %w", err)
	}
	if len(b.notifier.AvailableChannels(user)) == 0 {
		b.log.Info("weather briefing skipped, no channel linked")
		return b.store.AppendLog(ctx, KindWeather, storage.StatusSkip, "no notification channel linked")
	}

	rep, err := b.weather.Current(ctx, b.city)
	if err != nil {
		if lerr := b.store.AppendLog(ctx, KindWeather, storage.StatusFail, "weather fetch failed: "+err.Error()); lerr != nil {
			b.log.Warn("activity log append failed", logx.Err(lerr))
		}
		return fmt.Errorf("weather: fetch: %w", err)
	}

	out := b.notifier.Send(ctx, user, formatWeather(rep))
	status := storage.StatusFail
	if out.Success {
		status = storage.StatusSuccess
	}
	return b.store.AppendLog(ctx, KindWeather, status, out.Summary)
}

func formatWeather(rep providers.WeatherReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Weather — %s</b>\n", rep.City)
	if rep.Description != "" {
		sb.WriteString(rep.Description + "\n")
	}
	fmt.Fprintf(&sb, "Temperature: %.1f°C (feels like %.1f°C)\n", rep.TempC, rep.FeelsLikeC)
	fmt.Fprintf(&sb, "Humidity: %d%%", rep.Humidity)
	return sb.String()
}
