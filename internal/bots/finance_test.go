package bots

import (
	"context"
	"errors"
	"strings"
	"testing"

	"assistant/internal/providers"
	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

type fakeQuotes struct {
	quotes []providers.Quote
	err    error
	calls  int
}

func (f *fakeQuotes) Quotes(_ context.Context, symbols []string) ([]providers.Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

func TestFinanceRunSkipsWithoutChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	quotes := &fakeQuotes{}
	bot := NewFinanceBot(store, &fakeNotifier{}, quotes, logx.Nop())

	if err := bot.Run(ctx, MarketUS); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if quotes.calls != 0 {
		t.Fatal("quotes fetched despite no linked channel")
	}
	if store.statusCount(storage.StatusSkip) != 1 {
		t.Fatal("no skip entry logged")
	}
}

func TestFinanceRunLogsOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	notifier := &fakeNotifier{channels: []string{"telegram"}, ok: true}
	quotes := &fakeQuotes{quotes: []providers.Quote{
		{Symbol: "^GSPC", Name: "S&P 500", Price: 6000.12, ChangePct: 0.45},
	}}
	bot := NewFinanceBot(store, notifier, quotes, logx.Nop())

	if err := bot.Run(ctx, MarketUS); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.statusCount(storage.StatusSuccess) != 1 {
		t.Fatal("no success entry logged")
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "S&P 500") {
		t.Fatalf("message = %q", notifier.sent)
	}
}

func TestFinanceRunFetchFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	notifier := &fakeNotifier{channels: []string{"telegram"}, ok: true}
	bot := NewFinanceBot(store, notifier, &fakeQuotes{err: errors.New("endpoint down")}, logx.Nop())

	if err := bot.Run(ctx, MarketKR); err == nil {
		t.Fatal("fetch failure not surfaced")
	}
	if store.statusCount(storage.StatusFail) != 1 {
		t.Fatal("no fail entry logged")
	}
	if len(notifier.sent) != 0 {
		t.Fatal("message sent despite fetch failure")
	}
}

func TestCheckPriceAlertsFiresOnceAndDeactivates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore()
	store.alerts = []storage.PriceAlert{
		{ID: 1, Symbol: "AAPL", Threshold: 200, Above: true, Active: true},
		{ID: 2, Symbol: "TSLA", Threshold: 100, Above: false, Active: true},
		{ID: 3, Symbol: "NVDA", Threshold: 2000, Above: true, Active: true},
	}
	notifier := &fakeNotifier{channels: []string{"telegram"}, ok: true}
	quotes := &fakeQuotes{quotes: []providers.Quote{
		{Symbol: "AAPL", Price: 210}, // crossed up
		{Symbol: "TSLA", Price: 150}, // not crossed down
		{Symbol: "NVDA", Price: 1800},
	}}
	bot := NewFinanceBot(store, notifier, quotes, logx.Nop())

	if err := bot.CheckPriceAlerts(ctx); err != nil {
		t.Fatalf("CheckPriceAlerts: %v", err)
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "AAPL") {
		t.Fatalf("sent = %v, want one AAPL alert", notifier.sent)
	}
	if store.alerts[0].Active {
		t.Fatal("triggered alert still active")
	}
	if !store.alerts[1].Active || !store.alerts[2].Active {
		t.Fatal("untriggered alerts were deactivated")
	}

	// Alert is spent: a second pass must not fire it again.
	notifier.sent = nil
	if err := bot.CheckPriceAlerts(ctx); err != nil {
		t.Fatalf("second CheckPriceAlerts: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("spent alert fired again: %v", notifier.sent)
	}
}

func TestCheckPriceAlertsNoAlertsNoFetch(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	quotes := &fakeQuotes{}
	bot := NewFinanceBot(store, &fakeNotifier{channels: []string{"telegram"}, ok: true}, quotes, logx.Nop())

	if err := bot.CheckPriceAlerts(context.Background()); err != nil {
		t.Fatalf("CheckPriceAlerts: %v", err)
	}
	if quotes.calls != 0 {
		t.Fatal("quotes fetched with no active alerts")
	}
}
