package bots

import (
	"context"
	"fmt"
	"strings"

	"assistant/internal/providers"
	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

// QuoteProvider fetches latest quotes for a set of symbols.
type QuoteProvider interface {
	Quotes(ctx context.Context, symbols []string) ([]providers.Quote, error)
}

// FinanceBot sends the daily market summaries and checks price alerts.
type FinanceBot struct {
	store    Store
	notifier Notifier
	quotes   QuoteProvider
	log      logx.Logger
}

func NewFinanceBot(store Store, notifier Notifier, quotes QuoteProvider, log logx.Logger) *FinanceBot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FinanceBot{store: store, notifier: notifier, quotes: quotes, log: log}
}

// Run executes the summary for one market ("us" or "kr").
func (b *FinanceBot) Run(ctx context.Context, market string) error {
	var title string
	var symbols []string
	switch market {
	case MarketKR:
		title = "KR Market Summary"
		symbols = providers.KRIndexSymbols
	default:
		title = "US Market Summary"
		symbols = providers.USIndexSymbols
	}

	user, err := b.store.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("finance: load user: %w", err)
	}
	if len(b.notifier.AvailableChannels(user)) == 0 {
		b.log.Info("market summary skipped, no channel linked", logx.String("market", market))
		return b.store.AppendLog(ctx, KindFinance, storage.StatusSkip, "no notification channel linked")
	}

	quotes, err := b.quotes.Quotes(ctx, symbols)
	if err != nil {
		if lerr := b.store.AppendLog(ctx, KindFinance, storage.StatusFail, "quote fetch failed: "+err.Error()); lerr != nil {
			b.log.Warn("activity log append failed", logx.Err(lerr))
		}
		return fmt.Errorf("finance: fetch %s: %w", market, err)
	}

	out := b.notifier.Send(ctx, user, formatQuotes(title, quotes))
	status := storage.StatusFail
	if out.Success {
		status = storage.StatusSuccess
	}
	return b.store.AppendLog(ctx, KindFinance, status, out.Summary)
}

// CheckPriceAlerts fires a notification for every active alert whose
// threshold was crossed, then deactivates it so it fires once.
func (b *FinanceBot) CheckPriceAlerts(ctx context.Context) error {
	alerts, err := b.store.ListActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("finance: list alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil
	}

	user, err := b.store.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("finance: load user: %w", err)
	}
	if len(b.notifier.AvailableChannels(user)) == 0 {
		b.log.Debug("price alert check skipped, no channel linked")
		return nil
	}

	symbols := make([]string, 0, len(alerts))
	for _, a := range alerts {
		symbols = append(symbols, a.Symbol)
	}
	quotes, err := b.quotes.Quotes(ctx, symbols)
	if err != nil {
		return fmt.Errorf("finance: fetch alert quotes: %w", err)
	}
	prices := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		prices[q.Symbol] = q.Price
	}

	for _, a := range alerts {
		price, ok := prices[a.Symbol]
		if !ok {
			continue
		}
		if a.Above && price < a.Threshold || !a.Above && price > a.Threshold {
			continue
		}

		dir := "fell below"
		if a.Above {
			dir = "rose above"
		}
		text := fmt.Sprintf("<b>Price alert</b>\n%s %s %.2f (now %.2f)", a.Symbol, dir, a.Threshold, price)
		out := b.notifier.Send(ctx, user, text)
		status := storage.StatusFail
		if out.Success {
			status = storage.StatusSuccess
			if err := b.store.DeactivateAlert(ctx, a.ID); err != nil {
				b.log.Warn("alert deactivate failed", logx.Int64("alert", a.ID), logx.Err(err))
			}
		}
		if err := b.store.AppendLog(ctx, KindFinance, status,
			fmt.Sprintf("price alert %s @ %.2f: %s", a.Symbol, a.Threshold, out.Summary)); err != nil {
			b.log.Warn("activity log append failed", logx.Err(err))
		}
	}
	return nil
}

func formatQuotes(title string, quotes []providers.Quote) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>", title)
	if len(quotes) == 0 {
		sb.WriteString("\nNo quotes available.")
		return sb.String()
	}
	for _, q := range quotes {
		name := q.Name
		if name == "" {
			name = q.Symbol
		}
		fmt.Fprintf(&sb, "\n%s: %.2f (%+.2f%%)", name, q.Price, q.ChangePct)
	}
	return sb.String()
}
