package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`{"id": 1, "peers": ["10.0.0.1:9000", "10.0.0.2:9000", "10.0.0.3:9000"]}`))
	require.NoError(t, err)
	require.EqualValues(t, 1, cfg.ID)
	require.Equal(t, []string{"10.0.0.1:9000", "10.0.0.2:9000", "10.0.0.3:9000"}, cfg.Peers)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse(strings.NewReader(`{not json`))
	require.Error(t, err)
}

func TestParseRejectsIDOutOfRange(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"id": 3, "peers": ["a:1", "b:2"]}`))
	require.Error(t, err)
}

func TestParseRejectsNegativeID(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"id": -1, "peers": ["a:1", "b:2"]}`))
	require.Error(t, err)
}

func TestParseRejectsEmptyPeers(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"id": 0, "peers": []}`))
	require.Error(t, err)
}

func TestParseRejectsBlankPeerAddress(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"id": 0, "peers": ["a:1", ""]}`))
	require.Error(t, err)
}
