// Package ledger ведёт балансы покупателей в трёх валютах Growtopia
// (WL, DL, BGL) и журнал всех изменений.
// models.go описывает баланс, типы транзакций и строку журнала.
package ledger

import (
	"time"

	"serotonyl.ru/growstore-bot/internal/common"
)

// Курсы: 1 DL = 100 WL, 1 BGL = 100 DL = 10 000 WL.
const (
	WLPerDL  = 100
	WLPerBGL = 10_000
)

// TxType - тип записи журнала.
type TxType string

const (
	TxPurchase    TxType = "PURCHASE"
	TxDeposit     TxType = "DEPOSIT"
	TxWithdrawal  TxType = "WITHDRAWAL"
	TxDonation    TxType = "DONATION"
	TxAdminAdd    TxType = "ADMIN_ADD"
	TxAdminRemove TxType = "ADMIN_REMOVE"
	TxAdminReset  TxType = "ADMIN_RESET"
	TxRefund      TxType = "REFUND"
	TxTransfer    TxType = "TRANSFER"
)

// Valid проверяет, что тип входит в перечисление.
func (t TxType) Valid() bool {
	switch t {
	case TxPurchase, TxDeposit, TxWithdrawal, TxDonation, TxAdminAdd,
		TxAdminRemove, TxAdminReset, TxRefund, TxTransfer:
		return true
	}
	return false
}

// Transaction - неизменяемая запись журнала балансов.
type Transaction struct {
	ID         int64     `db:"id"`
	GrowID     string    `db:"growid"`
	Type       TxType    `db:"type"`
	Details    string    `db:"details"`
	OldBalance Balance   `db:"old_balance"`
	NewBalance Balance   `db:"new_balance"`
	CreatedAt  time.Time `db:"created_at"`
}

// Delta - изменение баланса этой записью.
func (t *Transaction) Delta() Balance {
	return t.NewBalance.Sub(t.OldBalance)
}

// FormatBalance - «12,345 WL» для сообщений.
func FormatBalance(b Balance) string {
	return common.FormatNumber(b.Total()) + " WL"
}
