package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"serotonyl.ru/growstore-bot/internal/common"
)

// Balance - баланс в трёх валютах. Хранимый баланс не бывает отрицательным;
// в виде дельты компоненты могут быть любого знака.
type Balance struct {
	WL  int64
	DL  int64
	BGL int64
}

// FromWL раскладывает сумму в WL по крупным валютам.
func FromWL(total int64) Balance {
	b := Balance{WL: total}
	return b.Normalize()
}

// MaxBase - предел баланса и разовой суммы в WL (10^11 BGL).
// Компоненты в пределах MaxBase/курс гарантируют, что Total и Add не переполнятся.
const MaxBase int64 = 1_000_000_000_000_000

// Bounded проверяет, что ни одна компонента и сумма в WL не выходят за MaxBase.
func (b Balance) Bounded() error {
	if !within(b.WL, 1) || !within(b.DL, WLPerDL) || !within(b.BGL, WLPerBGL) {
		return fmt.Errorf("%w: %s больше предела", common.ErrInvalidAmount, b)
	}
	if t := b.Total(); t > MaxBase || t < -MaxBase {
		return fmt.Errorf("%w: %s больше предела", common.ErrInvalidAmount, b)
	}
	return nil
}

func within(n, rate int64) bool {
	limit := MaxBase / rate
	return n <= limit && n >= -limit
}

// Total - баланс в WL.
func (b Balance) Total() int64 {
	return b.WL + b.DL*WLPerDL + b.BGL*WLPerBGL
}

// CanAfford сравнивает сумму в WL, а не покомпонентно:
// (0,2,0) может оплатить 20 WL.
func (b Balance) CanAfford(cost int64) bool {
	return b.Total() >= cost
}

func (b Balance) Add(o Balance) Balance {
	return Balance{WL: b.WL + o.WL, DL: b.DL + o.DL, BGL: b.BGL + o.BGL}
}

func (b Balance) Sub(o Balance) Balance {
	return Balance{WL: b.WL - o.WL, DL: b.DL - o.DL, BGL: b.BGL - o.BGL}
}

func (b Balance) Neg() Balance {
	return Balance{WL: -b.WL, DL: -b.DL, BGL: -b.BGL}
}

// IsNegative - хотя бы одна компонента меньше нуля.
func (b Balance) IsNegative() bool {
	return b.WL < 0 || b.DL < 0 || b.BGL < 0
}

func (b Balance) IsZero() bool {
	return b.WL == 0 && b.DL == 0 && b.BGL == 0
}

// Normalize переносит излишки WL в DL и DL в BGL. Только для неотрицательных значений.
func (b Balance) Normalize() Balance {
	total := b.Total()
	return Balance{
		BGL: total / WLPerBGL,
		DL:  (total % WLPerBGL) / WLPerDL,
		WL:  total % WLPerDL,
	}
}

// Debit списывает cost WL, разменивая крупные валюты только при нехватке мелких.
// (0,2,0) - 40 = (60,1,0).
func (b Balance) Debit(cost int64) (Balance, error) {
	if cost < 0 {
		return b, common.ErrInvalidAmount
	}
	if !b.CanAfford(cost) {
		return b, common.ErrInsufficientBalance
	}
	r := b
	if r.WL >= cost {
		r.WL -= cost
		return r, nil
	}
	need := cost - r.WL
	r.WL = 0

	dl := ceilDiv(need, WLPerDL)
	if dl <= r.DL {
		r.DL -= dl
		r.WL = dl*WLPerDL - need
		return r, nil
	}
	need -= r.DL * WLPerDL
	r.DL = 0

	bgl := ceilDiv(need, WLPerBGL)
	r.BGL -= bgl
	change := bgl*WLPerBGL - need
	r.DL = change / WLPerDL
	r.WL = change % WLPerDL
	return r, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// String - формат хранения в журнале: "wl,dl,bgl".
func (b Balance) String() string {
	return fmt.Sprintf("%d,%d,%d", b.WL, b.DL, b.BGL)
}

// ParseBalance разбирает "wl,dl,bgl".
func ParseBalance(s string) (Balance, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return Balance{}, fmt.Errorf("%w: баланс %q", common.ErrInvalidInput, s)
	}
	var vals [3]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return Balance{}, fmt.Errorf("%w: баланс %q", common.ErrInvalidInput, s)
		}
		vals[i] = v
	}
	return Balance{WL: vals[0], DL: vals[1], BGL: vals[2]}, nil
}

// Describe - человекочитаемая разбивка для ответов: "1 BGL, 2 DL, 60 WL".
func (b Balance) Describe() string {
	var parts []string
	if b.BGL != 0 {
		parts = append(parts, common.FormatNumber(b.BGL)+" BGL")
	}
	if b.DL != 0 {
		parts = append(parts, common.FormatNumber(b.DL)+" DL")
	}
	if b.WL != 0 || len(parts) == 0 {
		parts = append(parts, common.FormatNumber(b.WL)+" WL")
	}
	return strings.Join(parts, ", ")
}
