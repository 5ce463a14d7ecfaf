package domain

import (
	"encoding/json"
	"time"
)

type Product struct {
	ID         string `json:"id" db:"id"`
	SKU        string `json:"sku" db:"sku"`
	Name       string `json:"name" db:"name"`
	PriceCents int64  `json:"price_cents" db:"price_cents"`
	MinStock   int    `json:"min_stock" db:"min_stock"`
	Active     bool   `json:"active" db:"active"`
}

type Outlet struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Code     string `json:"code" db:"code"`
	Timezone string `json:"timezone" db:"timezone"`
}

// StockLedgerEntry is the quantity of record for one product at one outlet.
type StockLedgerEntry struct {
	ProductID string    `json:"product_id" db:"product_id"`
	OutletID  string    `json:"outlet_id" db:"outlet_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type MovementKind string

const (
	MovementIn            MovementKind = "IN"
	MovementOut           MovementKind = "OUT"
	MovementAdjustment    MovementKind = "ADJUSTMENT"
	MovementTransferIn    MovementKind = "TRANSFER_IN"
	MovementTransferOut   MovementKind = "TRANSFER_OUT"
	MovementSale          MovementKind = "SALE"
	MovementVoidRestock   MovementKind = "VOID_RESTOCK"
	MovementRefundRestock MovementKind = "REFUND_RESTOCK"
)

func (k MovementKind) Valid() bool {
	switch k {
	case MovementIn, MovementOut, MovementAdjustment, MovementTransferIn, MovementTransferOut,
		MovementSale, MovementVoidRestock, MovementRefundRestock:
		return true
	}
	return false
}

// IsDeduction reports kinds that remove goods from an outlet.
func (k MovementKind) IsDeduction() bool {
	return k == MovementOut || k == MovementTransferOut || k == MovementSale
}

// IsRestock reports kinds that only ever add goods.
func (k MovementKind) IsRestock() bool {
	return k == MovementIn || k == MovementTransferIn || k == MovementVoidRestock || k == MovementRefundRestock
}

type StockMovement struct {
	ID             string       `json:"id" db:"id"`
	ProductID      string       `json:"product_id" db:"product_id"`
	OutletID       string       `json:"outlet_id" db:"outlet_id"`
	Kind           MovementKind `json:"kind" db:"kind"`
	Delta          int          `json:"delta" db:"delta"`
	QuantityBefore int          `json:"quantity_before" db:"quantity_before"`
	QuantityAfter  int          `json:"quantity_after" db:"quantity_after"`
	Reference      string       `json:"reference,omitempty" db:"reference"`
	Note           string       `json:"note,omitempty" db:"note"`
	ActorID        string       `json:"actor_id" db:"actor_id"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

type LowStockAlert struct {
	ID          string     `json:"id" db:"id"`
	ProductID   string     `json:"product_id" db:"product_id"`
	OutletID    string     `json:"outlet_id" db:"outlet_id"`
	Quantity    int        `json:"quantity" db:"quantity"`
	MinStock    int        `json:"min_stock" db:"min_stock"`
	Note        string     `json:"note,omitempty" db:"note"`
	TriggeredAt time.Time  `json:"triggered_at" db:"triggered_at"`
	ClearedAt   *time.Time `json:"cleared_at,omitempty" db:"cleared_at"`
}

func (a LowStockAlert) Open() bool {
	return a.ClearedAt == nil
}

type LowStockResult string

const (
	LowStockTriggered LowStockResult = "TRIGGERED"
	LowStockCleared   LowStockResult = "CLEARED"
	LowStockUnchanged LowStockResult = "UNCHANGED"
)

type SaleStatus string

const (
	SaleCompleted SaleStatus = "COMPLETED"
	SaleVoided    SaleStatus = "VOIDED"
	SaleRefunded  SaleStatus = "REFUNDED"
)

type TaxMode string

const (
	TaxNone      TaxMode = "NONE"
	TaxExclusive TaxMode = "EXCLUSIVE"
	TaxInclusive TaxMode = "INCLUSIVE"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentQRIS     PaymentMethod = "QRIS"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentEWallet  PaymentMethod = "EWALLET"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentQRIS, PaymentTransfer, PaymentEWallet:
		return true
	}
	return false
}

type Sale struct {
	ID                string     `json:"id"`
	ReceiptNumber     string     `json:"receipt_number"`
	OutletID          string     `json:"outlet_id"`
	CashierID         string     `json:"cashier_id"`
	Status            SaleStatus `json:"status"`
	GrossCents        int64      `json:"gross_cents"`
	ItemDiscountCents int64      `json:"item_discount_cents"`
	DiscountCents     int64      `json:"discount_cents"`
	TaxMode           TaxMode    `json:"tax_mode"`
	TaxRatePercent    string     `json:"tax_rate_percent"`
	TaxCents          int64      `json:"tax_cents"`
	NetCents          int64      `json:"net_cents"`
	SoldAt            time.Time  `json:"sold_at"`
	VoidReason        string     `json:"void_reason,omitempty"`
	VoidedAt          *time.Time `json:"voided_at,omitempty"`
	RefundedAt        *time.Time `json:"refunded_at,omitempty"`
	Items             []SaleItem `json:"items"`
	Payments          []Payment  `json:"payments"`
}

// TotalQuantity is the number of units across all lines.
func (s Sale) TotalQuantity() int {
	total := 0
	for _, item := range s.Items {
		total += item.Quantity
	}
	return total
}

type SaleItem struct {
	ID             string `json:"id" db:"id"`
	SaleID         string `json:"sale_id" db:"sale_id"`
	ProductID      string `json:"product_id" db:"product_id"`
	Quantity       int    `json:"quantity" db:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents" db:"unit_price_cents"`
	DiscountCents  int64  `json:"discount_cents" db:"discount_cents"`
	LineTotalCents int64  `json:"line_total_cents" db:"line_total_cents"`
}

type Payment struct {
	ID          string        `json:"id" db:"id"`
	SaleID      string        `json:"sale_id" db:"sale_id"`
	Method      PaymentMethod `json:"method" db:"method"`
	AmountCents int64         `json:"amount_cents" db:"amount_cents"`
	Reference   string        `json:"reference,omitempty" db:"reference"`
}

type Refund struct {
	ID          string       `json:"id"`
	SaleID      string       `json:"sale_id"`
	AmountCents int64        `json:"amount_cents"`
	Reason      string       `json:"reason"`
	ActorID     string       `json:"actor_id"`
	Items       []RefundItem `json:"items"`
	CreatedAt   time.Time    `json:"created_at"`
}

type RefundItem struct {
	SaleItemID string `json:"sale_item_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
}

type CashSession struct {
	ID                string     `json:"id" db:"id"`
	OutletID          string     `json:"outlet_id" db:"outlet_id"`
	UserID            string     `json:"user_id" db:"user_id"`
	OpeningCashCents  int64      `json:"opening_cash_cents" db:"opening_cash_cents"`
	ClosingCashCents  *int64     `json:"closing_cash_cents,omitempty" db:"closing_cash_cents"`
	CashSalesCents    *int64     `json:"cash_sales_cents,omitempty" db:"cash_sales_cents"`
	ExpectedCashCents *int64     `json:"expected_cash_cents,omitempty" db:"expected_cash_cents"`
	DifferenceCents   *int64     `json:"difference_cents,omitempty" db:"difference_cents"`
	OpenTime          time.Time  `json:"open_time" db:"open_time"`
	CloseTime         *time.Time `json:"close_time,omitempty" db:"close_time"`
}

func (s CashSession) Open() bool {
	return s.CloseTime == nil
}

type AuditAction string

const (
	AuditShiftOpen       AuditAction = "SHIFT_OPEN"
	AuditShiftClose      AuditAction = "SHIFT_CLOSE"
	AuditSaleRecord      AuditAction = "SALE_RECORD"
	AuditSaleVoid        AuditAction = "SALE_VOID"
	AuditSaleRefund      AuditAction = "SALE_REFUND"
	AuditLowStockTrigger AuditAction = "LOW_STOCK_TRIGGER"
)

type AuditLog struct {
	ID        string          `json:"id" db:"id"`
	Action    AuditAction     `json:"action" db:"action"`
	UserID    string          `json:"user_id" db:"user_id"`
	OutletID  string          `json:"outlet_id" db:"outlet_id"`
	Entity    string          `json:"entity" db:"entity"`
	EntityID  string          `json:"entity_id" db:"entity_id"`
	Details   json.RawMessage `json:"details" db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

type Actor struct {
	UserID string
	Role   string
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type UserAccount struct {
	Username  string    `json:"username" db:"username"`
	Password  string    `json:"-" db:"password_hash"`
	Role      string    `json:"role" db:"role"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
