package api

import "strconv"

// Page tokens are the base-36 offset of the next page. They carry no
// snapshot, so concurrent writes may shift a page boundary.
func encodePageToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return strconv.FormatInt(int64(offset), 36)
}

func decodePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(token, 36, 32)
	if err != nil || n <= 0 {
		return 0, badRequest("invalid page token")
	}
	return int(n), nil
}
