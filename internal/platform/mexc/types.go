package mexc

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// APITickerPrice is the body of GET /api/v3/ticker/price.
type APITickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// APIBalance is one entry of the account balances array.
type APIBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// APIAccount is the body of GET /api/v3/account.
type APIAccount struct {
	CanTrade    bool         `json:"canTrade"`
	CanWithdraw bool         `json:"canWithdraw"`
	CanDeposit  bool         `json:"canDeposit"`
	AccountType string       `json:"accountType"`
	UpdateTime  int64        `json:"updateTime"`
	Balances    []APIBalance `json:"balances"`
}

// ToDomainAccountInfo converts the API account into the domain type.
// Unparseable balances are reported as zero.
func (a APIAccount) ToDomainAccountInfo() domain.AccountInfo {
	info := domain.AccountInfo{
		CanTrade:    a.CanTrade,
		AccountType: a.AccountType,
		Balances:    make([]domain.Balance, 0, len(a.Balances)),
	}
	if a.UpdateTime > 0 {
		info.UpdateTime = time.UnixMilli(a.UpdateTime).UTC()
	}
	for _, b := range a.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		info.Balances = append(info.Balances, domain.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return info
}

// APIOrderAck is the body returned by POST /api/v3/order.
type APIOrderAck struct {
	Symbol       string     `json:"symbol"`
	OrderID      flexString `json:"orderId"`
	OrderListID  int64      `json:"orderListId"`
	Price        string     `json:"price"`
	OrigQty      string     `json:"origQty"`
	Type         string     `json:"type"`
	Side         string     `json:"side"`
	TransactTime int64      `json:"transactTime"`
}

// APIError is the error envelope MEXC returns with non-2xx responses.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// MEXC error codes the client distinguishes.
const (
	codeInvalidSymbol    = -1121
	codeInvalidSymbolAlt = 10007
	codeBadSignature     = 700002
	codeBadAPIKey        = 10072
)

// flexString accepts both JSON strings and numbers; MEXC has returned order
// IDs in both forms.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}
