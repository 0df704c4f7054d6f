package relationaldb

import (
	"github.com/anthill-platform/anthill-market/internal/market"
)

// encodePayload renders a payload to its canonical JSON text for
// storage. Storing the canonical form keeps the stored text equal for
// equal payloads, which the hash columns already rely on.
func encodePayload(p market.Payload) (string, error) {
	raw, err := p.Canonical()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodePayload parses stored payload text back into a Payload.
func decodePayload(raw string) (market.Payload, error) {
	return market.ParsePayload(raw)
}
