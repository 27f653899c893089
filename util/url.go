package util

import (
	"net/url"
	"strconv"
)

// GetQueryParam returns the first value of key in u's query string, or defaultValue when absent.
func GetQueryParam(u *url.URL, key, defaultValue string) string {
	if u == nil {
		return defaultValue
	}

	value := u.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	return value
}

func GetQueryParamInt(u *url.URL, key string, defaultValue int) int {
	value := GetQueryParam(u, key, "")
	if value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return i
}
