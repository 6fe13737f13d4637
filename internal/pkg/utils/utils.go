package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID generates a UUID v4 string.
func GenerateUUID() string {
	return uuid.New().String()
}

// FormatKES renders a whole-shilling amount as "KES 1,234". Amounts from
// the backend arrive in cents; set cents to convert.
func FormatKES(amount int64, cents bool) string {
	if cents {
		amount /= 100
	}
	return "KES " + groupThousands(amount)
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var b strings.Builder
	for i, d := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// FormatCountdown renders remaining seconds as "m:ss" for the payment
// waiting screen.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
