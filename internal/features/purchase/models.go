// Package purchase - координатор покупки: списание стока и баланса
// в одной транзакции БД.
package purchase

import (
	"time"

	"serotonyl.ru/growstore-bot/internal/features/ledger"
	"serotonyl.ru/growstore-bot/internal/features/stock"
)

// MaxQty - максимум единиц за одну покупку.
const MaxQty = 999

// Receipt - итог закоммиченной покупки.
type Receipt struct {
	ChatUserID    int64
	GrowID        string
	Product       stock.Product
	Qty           int
	Items         []*stock.Item
	UnitPrice     int64
	Total         int64
	OldBalance    ledger.Balance
	NewBalance    ledger.Balance
	TransactionID int64
	At            time.Time
}

// Contents - выдаваемый покупателю контент в порядке продажи.
func (r *Receipt) Contents() []string {
	out := make([]string, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Content
	}
	return out
}

// ItemIDs - ID проданных единиц.
func (r *Receipt) ItemIDs() []int64 {
	out := make([]int64, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.ID
	}
	return out
}
