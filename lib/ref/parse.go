// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// splitSigilID splits a "<sigil>localpart:server" identifier into its
// localpart and server halves. The server may itself contain a colon
// (host:port), so only the first colon after the sigil separates.
func splitSigilID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if identifier == "" {
		return "", "", fmt.Errorf("empty %s", kind)
	}
	if identifier[0] != sigil {
		return "", "", fmt.Errorf("%s must start with '%c': %q", kind, sigil, identifier)
	}
	colon := strings.IndexByte(identifier[1:], ':')
	if colon < 0 {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", kind, identifier)
	}
	if colon == 0 {
		return "", "", fmt.Errorf("%s has empty local part: %q", kind, identifier)
	}
	localpart = identifier[1 : 1+colon]
	server = identifier[1+colon+1:]
	if server == "" {
		return "", "", fmt.Errorf("%s has empty server name: %q", kind, identifier)
	}
	return localpart, server, nil
}
