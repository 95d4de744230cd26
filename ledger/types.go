package ledger

import (
	"bytes"
	"encoding/json"

	"ledger_scanner/models"

	"github.com/shopspring/decimal"
)

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type addressResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Address string `json:"address"`
	} `json:"data"`
}

type symbolsResponse struct {
	Data []struct {
		SymbolID flexString `json:"symbolID"`
		Name     string     `json:"name"`
	} `json:"data"`
}

type markPriceResponse struct {
	Data []struct {
		Symbol string          `json:"s"`
		Price  decimal.Decimal `json:"p"`
	} `json:"data"`
}

type tradeRecord struct {
	SymbolID flexString      `json:"symbol_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Fee      decimal.Decimal `json:"fee"`
	Price    decimal.Decimal `json:"price"`
	Side     flexString      `json:"side"`
}

func (r tradeRecord) toTrade() models.Trade {
	return models.Trade{
		SymbolID:       string(r.SymbolID),
		Quantity:       r.Quantity,
		RawFee:         r.Fee,
		Side:           models.ParseSide(string(r.Side)),
		ExecutionPrice: r.Price,
	}
}

type tradesResponse struct {
	Data       []tradeRecord `json:"data"`
	NextCursor flexString    `json:"next_cursor"`
}

// PageQuery selects one page of trade history. Cursor is only sent when
// UseCursor is set; Offset only when it is not.
type PageQuery struct {
	Limit     int
	Offset    int
	Cursor    string
	UseCursor bool
}

type TradePage struct {
	Trades     []models.Trade
	NextCursor string
}
