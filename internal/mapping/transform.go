package mapping

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"20060102",
}

// applyTransform converts an extracted value according to the declared
// transform name. Unknown transforms are an error so config typos fail loudly.
func applyTransform(name string, value interface{}) (interface{}, error) {
	switch name {
	case "", "none":
		return value, nil
	case "string":
		return toString(value), nil
	case "number":
		return toNumber(value)
	case "boolean":
		return toBoolean(value)
	case "date":
		return toDate(value)
	case "uppercase":
		return strings.ToUpper(toString(value)), nil
	case "lowercase":
		return strings.ToLower(toString(value)), nil
	case "trim":
		return strings.TrimSpace(toString(value)), nil
	case "percentage_to_decimal":
		n, err := toNumber(value)
		if err != nil {
			return nil, err
		}
		// Values above 1 are assumed to be percentages (8.25 -> 0.0825);
		// decimals pass through. Rates legitimately above 100% are
		// misclassified by this heuristic; kept for vendor compatibility.
		if n > 1 {
			return n / 100, nil
		}
		return n, nil
	case "cents_to_dollars":
		n, err := toNumber(value)
		if err != nil {
			return nil, err
		}
		return n / 100, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toNumber(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to number", v)
		}
		return n, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

func toBoolean(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1", "on", "active":
			return true, nil
		case "false", "no", "n", "0", "off", "inactive", "":
			return false, nil
		}
		return false, fmt.Errorf("cannot convert %q to boolean", v)
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

func toDate(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case float64:
		// Unix seconds, or milliseconds when implausibly large.
		secs := int64(v)
		if secs > 1e12 {
			return time.UnixMilli(secs).UTC(), nil
		}
		return time.Unix(secs, 0).UTC(), nil
	case string:
		trimmed := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as date", v)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to date", value)
	}
}
