package cache

import "fmt"

// keyPrefix namespaces cache keys in Redis.
const keyPrefix = "feedcore:page"

// PageKey identifies one cached feed page.
type PageKey struct {
	Page  int
	Limit int
}

// String renders the Redis key for this page.
func (k PageKey) String() string {
	return fmt.Sprintf("%s:%d:%d", keyPrefix, k.Page, k.Limit)
}
