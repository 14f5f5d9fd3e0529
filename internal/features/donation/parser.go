// Package donation зачисляет пожертвования из журнала доната.
// Сообщение в канале id_donation_log выглядит так:
//
//	GrowID: TestUser
//	Deposit: 10 World Lock, 1 Diamond Lock
//
// Ключи без учёта регистра, валюты в любом написании, которое понимает ledger.ParseUnit.
package donation

import (
	"strconv"
	"strings"

	"serotonyl.ru/growstore-bot/internal/features/ledger"
)

// Donation - разобранное сообщение.
type Donation struct {
	GrowID string
	Amount ledger.Balance
}

// Parse ищет поля GrowID и Deposit. ok == false, если хотя бы одного нет
// или список депозитов не разбирается.
func Parse(text string) (d Donation, ok bool) {
	var haveGrowID, haveDeposit bool
	for _, line := range strings.Split(text, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "growid":
			if value != "" {
				d.GrowID = value
				haveGrowID = true
			}
		case "deposit":
			amount, err := parseDeposit(value)
			if err != nil {
				return Donation{}, false
			}
			d.Amount = amount
			haveDeposit = true
		}
	}
	if !haveGrowID || !haveDeposit || d.Amount.IsZero() {
		return Donation{}, false
	}
	return d, true
}

// parseDeposit разбирает "<n> <unit>[, <n> <unit>...]" в дельту по валютам.
func parseDeposit(s string) (ledger.Balance, error) {
	var total ledger.Balance
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		if len(fields) < 2 {
			return ledger.Balance{}, errBadDeposit
		}
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || n <= 0 {
			return ledger.Balance{}, errBadDeposit
		}
		unit, err := ledger.ParseUnit(strings.Join(fields[1:], " "))
		if err != nil {
			return ledger.Balance{}, err
		}
		amount, err := unit.CheckedAmount(n)
		if err != nil {
			return ledger.Balance{}, err
		}
		total = total.Add(amount)
		if err := total.Bounded(); err != nil {
			return ledger.Balance{}, err
		}
	}
	return total, nil
}
