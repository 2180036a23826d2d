package history

import (
	"fmt"
	"strconv"
	"strings"
)

// Cache keys name one (security, year range) pair. Distinct ranges for the
// same security map to distinct keys, and every key for a security shares the
// same prefix so the store can enumerate all cached ranges for that security
// without knowing any range up front.
const keySep = "|"

// EncodeKey derives the cache key for a security code and covered range,
// e.g. "600519.SH|2015|2023".
func EncodeKey(code string, r YearRange) string {
	return fmt.Sprintf("%s%s%d%s%d", code, keySep, r.Start, keySep, r.End)
}

// EntityPrefix returns the key prefix shared by all cached ranges of a
// security.
func EntityPrefix(code string) string {
	return code + keySep
}

// DecodeKey splits a cache key back into its security code and range.
func DecodeKey(key string) (string, YearRange, error) {
	idx := strings.LastIndex(key, keySep)
	if idx < 0 {
		return "", YearRange{}, fmt.Errorf("malformed cache key %q", key)
	}
	end, err := strconv.Atoi(key[idx+1:])
	if err != nil {
		return "", YearRange{}, fmt.Errorf("malformed cache key %q: %w", key, err)
	}
	rest := key[:idx]
	idx = strings.LastIndex(rest, keySep)
	if idx < 0 {
		return "", YearRange{}, fmt.Errorf("malformed cache key %q", key)
	}
	start, err := strconv.Atoi(rest[idx+1:])
	if err != nil {
		return "", YearRange{}, fmt.Errorf("malformed cache key %q: %w", key, err)
	}
	code := rest[:idx]
	if code == "" {
		return "", YearRange{}, fmt.Errorf("malformed cache key %q: empty code", key)
	}
	r, err := NewYearRange(start, end)
	if err != nil {
		return "", YearRange{}, fmt.Errorf("malformed cache key %q: %w", key, err)
	}
	return code, r, nil
}
