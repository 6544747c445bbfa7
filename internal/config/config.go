// Package config loads the per-replica JSON configuration document
// for a replica: its id and the ordered
// address list that fixes ReplicaID assignment across the cluster.
// Malformed configuration is fatal at startup, never a panic that
// escapes into the rest of the program.
package config

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/paxoscluster/paxos/internal/protocol"
)

// Config is a single replica's view of the cluster.
type Config struct {
	ID    protocol.ReplicaID `json:"id"`
	Peers []string           `json:"peers"`
}

// document mirrors the wire JSON shape; ID is unmarshaled as a signed
// int first so a negative value can be rejected with a clear message
// instead of silently wrapping to a huge ReplicaID.
type document struct {
	ID    int      `json:"id"`
	Peers []string `json:"peers"`
}

// Load reads and validates configuration from path.
func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: open %s", path)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads and validates configuration from r.
func Parse(r io.Reader) (Config, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Config{}, errors.Wrap(err, "config: decode JSON")
	}

	if len(doc.Peers) == 0 {
		return Config{}, errors.New("config: peers list must not be empty")
	}
	if doc.ID < 0 || doc.ID >= len(doc.Peers) {
		return Config{}, errors.Errorf("config: id %d out of range for %d peers", doc.ID, len(doc.Peers))
	}
	for i, addr := range doc.Peers {
		if addr == "" {
			return Config{}, errors.Errorf("config: peers[%d] is empty", i)
		}
	}

	return Config{ID: protocol.ReplicaID(doc.ID), Peers: doc.Peers}, nil
}
