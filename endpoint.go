package main

import (
	"fmt"
	"strings"

	"github.com/ghettovoice/gosip/sip/parser"
)

// defaultTechnology is the channel driver used for SIP URIs.
const defaultTechnology = "PJSIP"

// toEndpoint converts a configured destination into an ARI dial endpoint.
// Values already naming a technology ("PJSIP/100", "Local/200@default")
// pass through. SIP URIs ("sip:100@pbx.local:5070") become
// "PJSIP/100@pbx.local:5070".
func toEndpoint(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("empty endpoint")
	}
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "sip:") && !strings.HasPrefix(lower, "sips:") {
		if !strings.Contains(value, "/") {
			return "", fmt.Errorf("endpoint %q has no technology", value)
		}
		return value, nil
	}

	uri, err := parser.ParseUri(value)
	if err != nil {
		return "", fmt.Errorf("parse sip uri: %w", err)
	}
	host := uri.Host()
	if host == "" {
		return "", fmt.Errorf("sip uri %q has no host", value)
	}
	if port := uri.Port(); port != nil {
		host = fmt.Sprintf("%s:%d", host, *port)
	}
	if u := uri.User(); u != nil && u.String() != "" {
		return defaultTechnology + "/" + u.String() + "@" + host, nil
	}
	return defaultTechnology + "/" + host, nil
}
