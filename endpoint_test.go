package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToEndpoint(t *testing.T) {
	cases := map[string]string{
		"PJSIP/100":                   "PJSIP/100",
		"Local/200@default":           "Local/200@default",
		"  SIP/trunk/5551234  ":       "SIP/trunk/5551234",
		"sip:100@pbx.local":           "PJSIP/100@pbx.local",
		"sip:100@pbx.local:5070":      "PJSIP/100@pbx.local:5070",
		"sips:operator@10.0.0.1:5061": "PJSIP/operator@10.0.0.1:5061",
		"sip:pbx.local":               "PJSIP/pbx.local",
	}
	for in, want := range cases {
		got, err := toEndpoint(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestToEndpointRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "100"} {
		_, err := toEndpoint(in)
		assert.Error(t, err, "input %q", in)
	}
}
