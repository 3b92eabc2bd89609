package filter

import (
	"fmt"
	"strings"

	"github.com/sells-group/trend-curator/internal/model"
)

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func audienceLine(a model.Audience) string {
	age, gender := a.Age, a.Gender
	if age == "" {
		age = "any"
	}
	if gender == "" {
		gender = "any"
	}
	return fmt.Sprintf("Age: %s, Gender: %s, Interests: %s", age, gender, strings.Join(a.Interests, ", "))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func joinOr(items []string, def string) string {
	if len(items) == 0 {
		return def
	}
	return strings.Join(items, ", ")
}
