package shared

import "fmt"

// SnapshotLockKey builds the redis key guarding a valuation snapshot run.
func SnapshotLockKey(day string) string {
	return fmt.Sprintf("valuation:snapshot:%s:lock", day)
}
