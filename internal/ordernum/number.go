package ordernum

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrMalformed = errors.New("ordernum: malformed order number")

// DateKey renders day as DDMM in its own location.
func DateKey(day time.Time) string { return day.Format("0201") }

// Key is the sequence scope PREFIX-DDMM.
func Key(prefix string, day time.Time) string {
	return strings.ToUpper(prefix) + "-" + DateKey(day)
}

// Format builds PREFIX-DDMM-NNN. The sequence is padded to three digits and
// widens past 999 rather than wrapping.
func Format(key string, seq int) string {
	return fmt.Sprintf("%s-%03d", key, seq)
}

// Parse splits an order number into its key and sequence.
func Parse(number string) (key string, seq int, err error) {
	i := strings.LastIndexByte(number, '-')
	if i <= 0 || i == len(number)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	key, tail := number[:i], number[i+1:]
	j := strings.LastIndexByte(key, '-')
	if j <= 0 || len(key)-j-1 != 4 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	if _, err := strconv.Atoi(key[j+1:]); err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	seq, err = strconv.Atoi(tail)
	if err != nil || seq <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	return key, seq, nil
}
