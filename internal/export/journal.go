// internal/export/journal.go
package export

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/events"
)

// Record is one committed trade as it appears in an export. Amounts are in
// whole units. Bnb is the gross paid on a buy and the net received on a sell.
type Record struct {
	EventID     string          `json:"event_id"`
	SaleID      string          `json:"sale_id"`
	Side        string          `json:"side"`
	Trader      string          `json:"trader"`
	Bnb         decimal.Decimal `json:"bnb"`
	Tokens      decimal.Decimal `json:"tokens"`
	CreatorFee  decimal.Decimal `json:"creator_fee"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Price       decimal.Decimal `json:"price"`
	TokensSold  decimal.Decimal `json:"tokens_sold"`
	Timestamp   time.Time       `json:"timestamp"`
}

// CSVHeaders returns the column names matching Record.ToCSV.
func CSVHeaders() []string {
	return []string{
		"timestamp", "event_id", "sale_id", "side", "trader",
		"bnb", "tokens", "creator_fee", "platform_fee", "price", "tokens_sold",
	}
}

// ToCSV renders the record as a CSV row.
func (r Record) ToCSV() []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.EventID,
		r.SaleID,
		r.Side,
		r.Trader,
		r.Bnb.String(),
		r.Tokens.String(),
		r.CreatorFee.String(),
		r.PlatformFee.String(),
		r.Price.String(),
		r.TokensSold.String(),
	}
}

// Journal collects trade records from the event bus.
type Journal struct {
	mu      sync.RWMutex
	records []Record
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Attach subscribes the journal to trade events.
func (j *Journal) Attach(bus *events.Bus) []events.Subscription {
	return bus.SubscribeAll(j, events.TokensBought, events.TokensSold)
}

// Handle implements events.Handler.
func (j *Journal) Handle(_ context.Context, event events.Event) error {
	var r Record
	switch e := event.(type) {
	case *events.TokensBoughtEvent:
		r = Record{
			SaleID:      e.SaleID,
			Side:        "buy",
			Trader:      e.Buyer.String(),
			Bnb:         curve.ToDecimal(e.BnbIn),
			Tokens:      curve.ToDecimal(e.TokensOut),
			CreatorFee:  curve.ToDecimal(e.CreatorFee),
			PlatformFee: curve.ToDecimal(e.PlatformFee),
			Price:       curve.ToDecimal(e.Price),
			TokensSold:  curve.ToDecimal(e.TokensSold),
		}
	case *events.TokensSoldEvent:
		r = Record{
			SaleID:      e.SaleID,
			Side:        "sell",
			Trader:      e.Seller.String(),
			Bnb:         curve.ToDecimal(e.BnbOut),
			Tokens:      curve.ToDecimal(e.TokenAmount),
			CreatorFee:  curve.ToDecimal(e.CreatorFee),
			PlatformFee: curve.ToDecimal(e.PlatformFee),
			Price:       curve.ToDecimal(e.Price),
			TokensSold:  curve.ToDecimal(e.TokensSold),
		}
	default:
		return nil
	}
	r.EventID = event.ID()
	r.Timestamp = event.Timestamp()

	j.mu.Lock()
	j.records = append(j.records, r)
	j.mu.Unlock()
	return nil
}

// Records returns the journal in arrival order.
func (j *Journal) Records() []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]Record(nil), j.records...)
}
