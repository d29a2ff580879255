package entity

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// GenDirectDedupeKey generates the dedupe key for a direct-message room.
// Format: dm_{min(userA,userB)}:{max(userA,userB)}
// Uses ":" as separator between userIds to support userIds containing "_"
func GenDirectDedupeKey(userA, userB string) string {
	users := []string{userA, userB}
	sort.Strings(users)
	return fmt.Sprintf("dm_%s:%s", users[0], users[1])
}

// GenProductDedupeKey generates the dedupe key for a product-inquiry room.
// Format: pi_{productId}:{sorted participant ids}
func GenProductDedupeKey(productId string, userIds []string) string {
	ids := make([]string, len(userIds))
	copy(ids, userIds)
	sort.Strings(ids)
	return fmt.Sprintf("pi_%s:%s", productId, strings.Join(ids, ":"))
}

// TruncatePreview shortens message content to a room preview.
func TruncatePreview(content string, max int) string {
	if max <= 0 || len(content) <= max {
		return content
	}
	r := []rune(content)
	if len(r) <= max {
		return content
	}
	return string(r[:max])
}
