package domain

import "time"

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type StockAdjustRequest struct {
	ProductID string       `json:"product_id" validate:"required"`
	OutletID  string       `json:"outlet_id" validate:"required"`
	Delta     int          `json:"delta"`
	Kind      MovementKind `json:"kind" validate:"required"`
	Note      string       `json:"note,omitempty" validate:"max=500"`
}

type StockAdjustResponse struct {
	ProductID   string         `json:"product_id"`
	OutletID    string         `json:"outlet_id"`
	NewQuantity int            `json:"new_quantity"`
	LowStock    LowStockResult `json:"low_stock"`
}

type TransferRequest struct {
	ProductID    string `json:"product_id" validate:"required"`
	FromOutletID string `json:"from_outlet_id" validate:"required"`
	ToOutletID   string `json:"to_outlet_id" validate:"required"`
	Quantity     int    `json:"quantity" validate:"required,gt=0"`
	Note         string `json:"note,omitempty" validate:"max=500"`
}

type TransferResponse struct {
	Reference       string `json:"reference"`
	ProductID       string `json:"product_id"`
	FromOutletID    string `json:"from_outlet_id"`
	ToOutletID      string `json:"to_outlet_id"`
	Quantity        int    `json:"quantity"`
	FromNewQuantity int    `json:"from_new_quantity"`
	ToNewQuantity   int    `json:"to_new_quantity"`
}

type OpnameEntry struct {
	ProductID       string `json:"product_id" validate:"required"`
	CountedQuantity int    `json:"counted_quantity" validate:"gte=0"`
	Note            string `json:"note,omitempty" validate:"max=500"`
}

type OpnameRequest struct {
	OutletID string        `json:"outlet_id"`
	Entries  []OpnameEntry `json:"entries" validate:"required,min=1,dive"`
}

type OpnameLine struct {
	ProductID       string `json:"product_id"`
	SystemQuantity  int    `json:"system_quantity"`
	CountedQuantity int    `json:"counted_quantity"`
	Delta           int    `json:"delta"`
}

type OpnameResponse struct {
	Reference string       `json:"reference"`
	OutletID  string       `json:"outlet_id"`
	Lines     []OpnameLine `json:"lines"`
	Changed   int          `json:"changed"`
	CountedAt time.Time    `json:"counted_at"`
}

type LedgerVerification struct {
	ProductID     string `json:"product_id"`
	OutletID      string `json:"outlet_id"`
	Quantity      int    `json:"quantity"`
	MovementSum   int    `json:"movement_sum"`
	MovementCount int    `json:"movement_count"`
	Consistent    bool   `json:"consistent"`
}

type TaxConfig struct {
	Mode        TaxMode `json:"mode"`
	RatePercent string  `json:"rate_percent,omitempty"`
}

type SaleItemInput struct {
	ProductID      string `json:"product_id" validate:"required"`
	Quantity       int    `json:"quantity" validate:"required,gt=0"`
	// UnitPriceCents overrides the catalogue price when set; zero is a free line.
	UnitPriceCents *int64 `json:"unit_price_cents,omitempty" validate:"omitempty,gte=0"`
	DiscountCents  int64  `json:"discount_cents,omitempty" validate:"gte=0"`
}

type PaymentInput struct {
	Method      PaymentMethod `json:"method" validate:"required"`
	AmountCents int64         `json:"amount_cents" validate:"required,gt=0"`
	Reference   string        `json:"reference,omitempty" validate:"max=120"`
}

type RecordSaleRequest struct {
	OutletID      string          `json:"outlet_id" validate:"required"`
	ReceiptNumber string          `json:"receipt_number,omitempty" validate:"max=64"`
	Items         []SaleItemInput `json:"items" validate:"required,min=1,dive"`
	Payments      []PaymentInput  `json:"payments" validate:"required,min=1,dive"`
	DiscountCents int64           `json:"discount_cents,omitempty" validate:"gte=0"`
	Tax           TaxConfig       `json:"tax"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type VoidSaleRequest struct {
	Reason     string `json:"reason" validate:"required,min=3"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type VoidSaleResponse struct {
	SaleID            string     `json:"sale_id"`
	Status            SaleStatus `json:"status"`
	RestockedQuantity int        `json:"restocked_quantity"`
	VoidedAt          time.Time  `json:"voided_at"`
}

type RefundSaleRequest struct {
	Reason      string `json:"reason" validate:"required,min=3"`
	AmountCents *int64 `json:"amount_cents,omitempty"`
	ManagerPIN  string `json:"manager_pin,omitempty"`
}

type RefundSaleResponse struct {
	SaleID            string     `json:"sale_id"`
	Status            SaleStatus `json:"status"`
	Refund            Refund     `json:"refund"`
	RestockedQuantity int        `json:"restocked_quantity"`
	AmountCents       int64      `json:"amount_cents"`
}

type OpenShiftRequest struct {
	OutletID         string `json:"outlet_id" validate:"required"`
	OpeningCashCents int64  `json:"opening_cash_cents" validate:"gte=0"`
}

type CloseShiftRequest struct {
	ClosingCashCents int64 `json:"closing_cash_cents" validate:"gte=0"`
}

type CashSessionSummary struct {
	Session           CashSession `json:"session"`
	OpeningCashCents  int64       `json:"opening_cash_cents"`
	CashSalesCents    int64       `json:"cash_sales_cents"`
	ExpectedCashCents int64       `json:"expected_cash_cents"`
	ClosingCashCents  int64       `json:"closing_cash_cents"`
	DifferenceCents   int64       `json:"difference_cents"`
}

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
