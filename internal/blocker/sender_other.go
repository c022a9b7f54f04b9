//go:build !linux

package blocker

import "raspsentinel/sentinel-go/internal/apperr"

func OpenRawSender(iface string) (Sender, error) {
	return nil, apperr.Errorf(apperr.KindConfiguration, "raw packet injection on %s requires linux", iface)
}
