//go:build !linux

package kernelinit

import "fmt"

func newNetlink() (Backend, error) {
	return Backend{}, fmt.Errorf("kernelinit: netlink backend requires linux")
}
