// shapes.go is the compatibility seam for the venue's drifting response
// shapes. Different Bybit API generations wrap list-bearing results as
// {result:{list:[...]}}, {result:{data:[...]}}, {result:[...]}, {data:[...]},
// or a bare [...]; extractList accepts all of them so the engine above never
// has to care which generation answered.
package exchange

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// extractList pulls the record list out of any of the known response shapes.
// A response with no recognizable list yields an empty slice, not an error;
// only malformed JSON is reported.
func extractList(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var outer struct {
		Result json.RawMessage   `json:"result"`
		Data   []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &outer); err != nil {
		return nil, err
	}

	if res := bytes.TrimSpace(outer.Result); len(res) > 0 && !bytes.Equal(res, []byte("null")) {
		if res[0] == '[' {
			var list []json.RawMessage
			if err := json.Unmarshal(res, &list); err != nil {
				return nil, err
			}
			return list, nil
		}
		var inner struct {
			List []json.RawMessage `json:"list"`
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(res, &inner); err == nil {
			if inner.List != nil {
				return inner.List, nil
			}
			if inner.Data != nil {
				return inner.Data, nil
			}
		}
	}

	if outer.Data != nil {
		return outer.Data, nil
	}
	return nil, nil
}

// OrderRecord is one order entry from the open-orders or order-history
// endpoints, tolerant of the three status field spellings seen in the wild.
type OrderRecord struct {
	OrderLinkID  string `json:"orderLinkId"`
	OrderStatus  string `json:"orderStatus"`
	Status       string `json:"status"`
	LegacyStatus string `json:"order_status"`
}

// StatusValue returns whichever status field the record carries.
func (r OrderRecord) StatusValue() string {
	switch {
	case r.OrderStatus != "":
		return r.OrderStatus
	case r.Status != "":
		return r.Status
	default:
		return r.LegacyStatus
	}
}

// TerminalFilled reports whether the record shows a terminal-fill status.
func (r OrderRecord) TerminalFilled() bool {
	switch strings.ToLower(r.StatusValue()) {
	case "filled", "complete", "closed":
		return true
	}
	return false
}

// decodeOrders unmarshals the raw records of a list response into OrderRecords,
// skipping entries that fail to decode.
func decodeOrders(raw []json.RawMessage) []OrderRecord {
	orders := make([]OrderRecord, 0, len(raw))
	for _, r := range raw {
		var rec OrderRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			continue
		}
		orders = append(orders, rec)
	}
	return orders
}

// PositionRecord is one position entry from the positions endpoint.
// Size arrives as a string on Bybit v5.
type PositionRecord struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Size   string `json:"size"`
}

// SizeDecimal parses the reported size; an unparsable size reads as zero,
// which the position monitor treats as "no position" on the next tick.
func (p PositionRecord) SizeDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(p.Size)
	if err != nil {
		return decimal.Zero
	}
	return d
}
