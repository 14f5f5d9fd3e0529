package cache

import "strconv"

// Ключи кэша. Собирать ключи вручную в других пакетах нельзя.
const (
	ProductsAllKey     = "products:all"
	MaintenanceModeKey = "settings:maintenance_mode"
)

func ProductKey(code string) string { return "product:" + code }

func StockCountKey(code string) string { return "stock:" + code + ":count" }

func StockAvailableKey(code string) string { return "stock:" + code + ":available" }

func BalanceKey(growid string) string { return "balance:" + growid }

func IdentityKey(chatUserID int64) string {
	return "identity:" + strconv.FormatInt(chatUserID, 10)
}

// MemberKey - участие пользователя в основном чате.
func MemberKey(chatID, userID int64) string {
	return "member:" + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// InvalidateProduct - хук записи товара.
func (c *Cache) InvalidateProduct(code string) {
	c.Delete(ProductKey(code), ProductsAllKey)
}

// InvalidateStock - хук записи стока.
func (c *Cache) InvalidateStock(code string) {
	c.Delete(StockCountKey(code), StockAvailableKey(code))
}

// InvalidateBalance - хук записи баланса.
func (c *Cache) InvalidateBalance(growid string) {
	c.Delete(BalanceKey(growid))
}

// InvalidateIdentity - хук записи привязки пользователя.
func (c *Cache) InvalidateIdentity(chatUserID int64) {
	c.Delete(IdentityKey(chatUserID))
}
