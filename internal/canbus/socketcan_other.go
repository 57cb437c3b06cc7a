//go:build !linux

package canbus

import "github.com/juju/errors"

func DialSocketCAN(iface string) (Bus, error) {
	return nil, errors.NotSupportedf("socketcan on this OS")
}
