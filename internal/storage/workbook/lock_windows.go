//go:build windows

package workbook

import (
	"errors"

	"golang.org/x/sys/windows"
)

// Excel holds an open workbook with a sharing lock, so renaming over it
// fails with one of these instead of ERROR_ACCESS_DENIED.
func isPlatformLock(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
