//go:build !linux

package sysfs

import "github.com/power-mode/power-mode/internal/domain"

// processAffinity is unknown off Linux; an empty set disables the check.
func processAffinity() (domain.CoreSet, error) {
	return nil, nil
}
