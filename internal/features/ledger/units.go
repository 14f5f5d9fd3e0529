package ledger

import (
	"fmt"
	"strings"

	"serotonyl.ru/growstore-bot/internal/common"
)

// Unit - валюта Growtopia.
type Unit int

const (
	UnitWL Unit = iota
	UnitDL
	UnitBGL
)

func (u Unit) String() string {
	switch u {
	case UnitDL:
		return "DL"
	case UnitBGL:
		return "BGL"
	}
	return "WL"
}

// Amount - n единиц валюты как баланс-дельта.
func (u Unit) Amount(n int64) Balance {
	switch u {
	case UnitDL:
		return Balance{DL: n}
	case UnitBGL:
		return Balance{BGL: n}
	}
	return Balance{WL: n}
}

// CheckedAmount - Amount с проверкой предела: n в (0, MaxBase/курс].
func (u Unit) CheckedAmount(n int64) (Balance, error) {
	b := u.Amount(n)
	if n <= 0 {
		return Balance{}, common.ErrInvalidAmount
	}
	if err := b.Bounded(); err != nil {
		return Balance{}, err
	}
	return b, nil
}

// Base - n единиц валюты в WL.
func (u Unit) Base(n int64) int64 {
	return u.Amount(n).Total()
}

// ParseUnit понимает короткие (WL, DL, BGL) и полные названия
// ("World Lock", "Diamond Locks", "blue gem lock") без учёта регистра.
func ParseUnit(s string) (Unit, error) {
	name := strings.ToLower(strings.Join(strings.Fields(s), " "))
	name = strings.TrimSuffix(name, "s")
	switch name {
	case "wl", "world lock":
		return UnitWL, nil
	case "dl", "diamond lock":
		return UnitDL, nil
	case "bgl", "blue gem lock":
		return UnitBGL, nil
	}
	return 0, fmt.Errorf("%w: unknown currency %q, use WL, DL or BGL", common.ErrInvalidInput, s)
}
