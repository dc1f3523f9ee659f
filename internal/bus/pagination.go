package bus

import "encoding/base64"

// DefaultPageSize is used by list operations whose caller does not specify
// a page size (spec.md scenario 6 relies on this being 100).
const DefaultPageSize = 100

// EncodeToken base64-encodes a stable item key into an opaque pagination
// cursor. Shared by every list operation (spec.md §4.5).
func EncodeToken(key string) string {
	if key == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(key))
}

// DecodeToken reverses EncodeToken. An empty token decodes to an empty key,
// meaning "start from the beginning".
func DecodeToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", errInvalidParameter("pagination token is not valid base64")
	}
	return string(raw), nil
}

// GetPage returns up to max items from items, starting strictly after the
// item whose token equals the given cursor (or from the beginning when
// token is empty), plus the next token to resume from. nextToken is empty
// when no further items remain.
func GetPage[T any](items []T, tokenOf func(T) string, max int, token string) ([]T, string, error) {
	if max <= 0 {
		max = DefaultPageSize
	}

	startKey, err := DecodeToken(token)
	if err != nil {
		return nil, "", err
	}

	start := 0
	if startKey != "" {
		found := false
		for i, item := range items {
			if tokenOf(item) == startKey {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			// Cursor no longer matches any item (e.g. it was deleted);
			// treat as exhausted rather than restarting from the top.
			return []T{}, "", nil
		}
	}

	if start >= len(items) {
		return []T{}, "", nil
	}

	end := start + max
	if end > len(items) {
		end = len(items)
	}

	page := items[start:end]
	nextToken := ""
	if end < len(items) {
		nextToken = EncodeToken(tokenOf(page[len(page)-1]))
	}
	return page, nextToken, nil
}
