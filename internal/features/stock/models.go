// Package stock - каталог товаров и склад выдаваемого контента.
// models.go описывает структуры таблиц products и stock.
package stock

import (
	"time"
)

// Status - состояние единицы стока.
// Допустимые переходы: AVAILABLE→SOLD (покупка), AVAILABLE→DELETED (админ).
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusSold      Status = "SOLD"
	StatusDeleted   Status = "DELETED"
)

// MaxPrice - предел цены за штуку в WL: цена × 999 штук не переполняет int64.
const MaxPrice int64 = 1_000_000_000_000

// Product - товар витрины. Code неизменяем и хранится в верхнем регистре.
type Product struct {
	Code        string    `db:"code"`
	Name        string    `db:"name"`
	Price       int64     `db:"price"` // Цена за штуку в WL
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// ProductUpdate - частичное изменение товара, nil-поля не меняются.
type ProductUpdate struct {
	Name        *string
	Price       *int64
	Description *string
}

// Item - единица стока. Content - то, что получает покупатель.
type Item struct {
	ID          int64     `db:"id"`
	ProductCode string    `db:"product_code"`
	Content     string    `db:"content"`
	ContentHash string    `db:"content_hash"`
	Status      Status    `db:"status"`
	AddedBy     string    `db:"added_by"`
	BuyerID     string    `db:"buyer_id"` // Пусто, пока не продано
	SellerID    string    `db:"seller_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// ShortHash - первые символы хэша контента для логов и админ-списков.
func (i *Item) ShortHash() string {
	return shortHash(i.ContentHash)
}

// AddResult - итог загрузки стока.
type AddResult struct {
	Added   int
	Skipped int // Дубликаты контента
}

// Summary - товар с количеством доступного стока, для витрины.
type Summary struct {
	Product   Product
	Available int
}
