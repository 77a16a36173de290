//go:build !windows

package workbook

func isPlatformLock(error) bool { return false }
