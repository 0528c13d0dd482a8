// Package payload maps provider webhook bodies onto canonical structs. Field
// alias lookups live here and nowhere else.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingIdentity is returned when a sheet row lacks phone or timestamp.
var ErrMissingIdentity = errors.New("payload: phone and payment timestamp are required")

// Sheet status and source markers.
const (
	StatusCancelled = "결제 취소"
	SourceRenewal   = "RENEWAL"
	SourceNew       = "NEW_ENROLLMENT"
)

// Sheet is one payment row pushed by the spreadsheet script.
type Sheet struct {
	Phone        string `json:"phone"`
	PaidAt       string `json:"timestamp"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Option       string `json:"option,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Status       string `json:"status,omitempty"`
	Product      string `json:"product,omitempty"`
	CancelReason string `json:"cancelReason,omitempty"`
	Source       string `json:"source,omitempty"`
}

var sheetAliases = map[string][]string{
	"phone":        {"전화번호", "phone"},
	"timestamp":    {"일시", "timestamp"},
	"name":         {"이름", "name"},
	"email":        {"이메일", "email"},
	"option":       {"구매옵션", "option"},
	"amount":       {"결제금액", "amount"},
	"status":       {"상태", "status"},
	"product":      {"상품명", "product"},
	"cancelReason": {"취소사유", "cancelReason"},
	"source":       {"_source"},
}

// Fields decodes a JSON object into strings keyed by the original names.
// Numbers keep their literal form so phone columns typed as numbers survive.
func Fields(raw []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("payload: decode: %w", err)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		out[k] = stringify(v)
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func first(fields map[string]string, names []string) string {
	for _, n := range names {
		if v := fields[n]; v != "" {
			return v
		}
	}
	return ""
}

// ParseSheet maps a sheet webhook body. Rows without phone or timestamp
// return ErrMissingIdentity alongside whatever was decoded.
func ParseSheet(raw []byte) (Sheet, error) {
	fields, err := Fields(raw)
	if err != nil {
		return Sheet{}, err
	}
	s := Sheet{
		Phone:        first(fields, sheetAliases["phone"]),
		PaidAt:       first(fields, sheetAliases["timestamp"]),
		Name:         first(fields, sheetAliases["name"]),
		Email:        first(fields, sheetAliases["email"]),
		Option:       first(fields, sheetAliases["option"]),
		Amount:       first(fields, sheetAliases["amount"]),
		Status:       first(fields, sheetAliases["status"]),
		Product:      first(fields, sheetAliases["product"]),
		CancelReason: first(fields, sheetAliases["cancelReason"]),
		Source:       first(fields, sheetAliases["source"]),
	}
	if s.Source == "" {
		s.Source = SourceNew
	}
	if s.Phone == "" || s.PaidAt == "" {
		return s, ErrMissingIdentity
	}
	return s, nil
}

// IsCancellation reports a refund row.
func (s Sheet) IsCancellation() bool { return strings.TrimSpace(s.Status) == StatusCancelled }

// IsRenewal reports a row from the renewal sheet.
func (s Sheet) IsRenewal() bool { return s.Source == SourceRenewal }

// AmountValue keeps only digits of the amount column; nil when none.
func (s Sheet) AmountValue() *int64 {
	var b strings.Builder
	for _, r := range s.Amount {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// NameOr returns the customer name or fallback.
func (s Sheet) NameOr(fallback string) string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	return fallback
}
