package collection

import "fmt"

// listingPrefix scopes every cached listing page of one owner, across all of
// their connections, so a single invalidation clears them.
func listingPrefix(ownerID string) string {
	return "collection:" + ownerID + ":"
}

func listingKey(ownerID, connectionID string, page, perPage int) string {
	return fmt.Sprintf("%s%s:p%d:n%d", listingPrefix(ownerID), connectionID, page, perPage)
}

// Release data is public, so detail entries are shared by all users.
func detailKey(releaseID int64) string {
	return fmt.Sprintf("release:%d", releaseID)
}
