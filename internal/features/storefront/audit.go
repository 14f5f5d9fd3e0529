package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/growstore-bot/internal/chat"
	"serotonyl.ru/growstore-bot/internal/features/purchase"
)

// Audit пишет покупки в журнальные каналы: подробный чек в id_log_purch
// и короткую публичную строку в id_history_buy. Нулевой id канала отключает запись.
type Audit struct {
	messenger   chat.Messenger
	purchaseLog int64
	buyHistory  int64
}

func NewAudit(m chat.Messenger, purchaseLog, buyHistory int64) *Audit {
	return &Audit{messenger: m, purchaseLog: purchaseLog, buyHistory: buyHistory}
}

// OnPurchase реализует purchase.Observer.
func (a *Audit) OnPurchase(ctx context.Context, r *purchase.Receipt) error {
	var errs []error
	if a.purchaseLog != 0 {
		if _, err := a.messenger.Send(ctx, a.purchaseLog, chat.Message{Embed: PurchaseLogEmbed(r)}); err != nil {
			errs = append(errs, fmt.Errorf("журнал покупок: %w", err))
		}
	}
	if a.buyHistory != 0 {
		if _, err := a.messenger.Send(ctx, a.buyHistory, chat.Message{Text: HistoryLine(r)}); err != nil {
			errs = append(errs, fmt.Errorf("история покупок: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.WithFields(log.Fields{"component": "audit", "tx_id": r.TransactionID}).Debug("Покупка записана в журналы")
	return nil
}

// PurchaseLogEmbed - чек для админов. Контент не раскрывается, только короткие хэши.
func PurchaseLogEmbed(r *purchase.Receipt) *chat.Embed {
	hashes := make([]string, len(r.Items))
	for i, it := range r.Items {
		hashes[i] = fmt.Sprintf("#%d %s", it.ID, it.ShortHash())
	}
	e := chat.Info("Purchase", fmt.Sprintf("%s bought %d × %s", r.GrowID, r.Qty, r.Product.Code))
	e.AddField("GrowID", r.GrowID, true)
	e.AddField("Product", r.Product.Name+" ("+r.Product.Code+")", true)
	e.AddField("Total", price(r.Total), true)
	e.AddField("Balance", price(r.OldBalance.Total())+" → "+price(r.NewBalance.Total()), false)
	e.AddField("Items", strings.Join(hashes, "\n"), false)
	e.Footer = fmt.Sprintf("Transaction #%d", r.TransactionID)
	e.Timestamp = r.At
	return e
}

// HistoryLine - публичная строка о покупке с замаскированным GrowID.
func HistoryLine(r *purchase.Receipt) string {
	return fmt.Sprintf("🛍 %s bought %d × %s for %s", maskGrowID(r.GrowID), r.Qty, r.Product.Name, price(r.Total))
}

func maskGrowID(growid string) string {
	runes := []rune(growid)
	if len(runes) <= 2 {
		return growid + "***"
	}
	return string(runes[:2]) + strings.Repeat("*", len(runes)-2)
}
