package models

import (
	"regexp"
	"strconv"
)

var etagRe = regexp.MustCompile(`^(?:W/)?"?v(\d+)"?$`)

// ETag renders a version as the entity tag used for conditional requests.
func ETag(version int) string {
	return `"v` + strconv.Itoa(version) + `"`
}

// ParseETag extracts the version from an If-Match or If-None-Match value.
func ParseETag(s string) (int, bool) {
	m := etagRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
