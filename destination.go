package msgsocket

import (
	"strings"

	"github.com/pkg/errors"
)

// ParseDestination splits dest into host and service. dest must contain
// exactly one colon with a non-empty part on each side.
func ParseDestination(dest string) (host, service string, err error) {
	if strings.Count(dest, ":") != 1 {
		return "", "", errors.Wrapf(ErrInvalidDestination, "%q", dest)
	}

	host, service, _ = strings.Cut(dest, ":")
	host = strings.TrimSpace(host)
	service = strings.TrimSpace(service)
	if host == "" || service == "" {
		return "", "", errors.Wrapf(ErrInvalidDestination, "%q", dest)
	}

	return host, service, nil
}
