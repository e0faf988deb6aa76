package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OrderID is the canonical order identifier. Upstream ids are integers;
// stringified and float representations are normalized through ParseOrderID.
type OrderID int64

func (id OrderID) String() string { return strconv.FormatInt(int64(id), 10) }

var ErrInvalidOrderID = errors.New("invalid order id")

// ParseOrderID normalizes the representations found in upstream payloads
// and older state files: integers, integral floats, json.Number and numeric
// strings.
func ParseOrderID(v any) (OrderID, error) {
	switch x := v.(type) {
	case OrderID:
		return x, nil
	case int:
		return OrderID(x), nil
	case int64:
		return OrderID(x), nil
	case int32:
		return OrderID(x), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) || x >= math.MaxInt64 || x < math.MinInt64 {
			return 0, fmt.Errorf("%w: %v", ErrInvalidOrderID, x)
		}
		return OrderID(int64(x)), nil
	case json.Number:
		return ParseOrderID(x.String())
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return OrderID(n), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return ParseOrderID(f)
		}
		return 0, fmt.Errorf("%w: %q", ErrInvalidOrderID, x)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidOrderID, v)
	}
}

// Order is a unit of work fetched from upstream. Payload is opaque to the
// scheduler and only used to derive the step environment.
type Order struct {
	ID      OrderID
	Payload map[string]any
}

func (o *Order) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return err
	}
	if payload == nil {
		return fmt.Errorf("%w: order is not an object", ErrInvalidOrderID)
	}
	raw, ok := payload["id"]
	if !ok {
		return fmt.Errorf("%w: missing id", ErrInvalidOrderID)
	}
	id, err := ParseOrderID(raw)
	if err != nil {
		return err
	}
	o.ID = id
	o.Payload = payload
	return nil
}

func (o Order) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(o.Payload)+1)
	for k, v := range o.Payload {
		m[k] = v
	}
	m["id"] = int64(o.ID)
	return json.Marshal(m)
}

// Field returns a top-level payload value as text, or "" when absent.
func (o Order) Field(key string) string {
	v, ok := o.Payload[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool, float64, int, int64:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// DeliveryKind selects which delivery step an order runs. It is resolved
// once per pipeline run, before the first step.
type DeliveryKind string

const (
	DeliveryBranch   DeliveryKind = "branch"
	DeliveryTerminal DeliveryKind = "terminal"
)
