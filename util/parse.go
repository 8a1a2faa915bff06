package util

import (
	"fmt"
	"strconv"
	"strings"
)

func ParseInt(str string, fallback int) int {
	if v, err := strconv.Atoi(str); err == nil {
		return v
	}
	return fallback
}

func ParseBool(str string, fallback bool) bool {
	if v, err := strconv.ParseBool(str); err == nil {
		return v
	}
	return fallback
}

var sizeUnits = []struct {
	suffix string
	factor int
}{
	{"gb", 1 << 30},
	{"g", 1 << 30},
	{"mb", 1 << 20},
	{"m", 1 << 20},
	{"kb", 1 << 10},
	{"k", 1 << 10},
	{"b", 1},
}

// ParseSize parses byte sizes such as "4096", "64k" or "16MB".
func ParseSize(str string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(str))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	factor := 1
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			factor = u.factor
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", str)
	}
	return n * factor, nil
}
