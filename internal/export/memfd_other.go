//go:build !linux

package export

import "errors"

func newMemfd() (Transport, error) {
	return nil, errors.New("export: memfd transport requires linux")
}
