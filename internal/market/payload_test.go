package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemHashStableAcrossKeyOrder(t *testing.T) {
	// Equivalent payloads built in different key orders must hash the
	// same, including nested objects.
	a := Payload{
		"color": "white",
		"stats": map[string]interface{}{"weight": 2, "sharpness": 7},
	}
	b := Payload{
		"stats": map[string]interface{}{"sharpness": 7, "weight": 2},
		"color": "white",
	}

	ha, err := ItemHash("sword", a)
	require.NoError(t, err)
	hb, err := ItemHash("sword", b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestItemHashDistinguishes(t *testing.T) {
	base, err := ItemHash("bread", Payload{"kind": "white"})
	require.NoError(t, err)

	otherPayload, err := ItemHash("bread", Payload{"kind": "rye"})
	require.NoError(t, err)
	assert.NotEqual(t, base, otherPayload)

	otherName, err := ItemHash("stone", Payload{"kind": "white"})
	require.NoError(t, err)
	assert.NotEqual(t, base, otherName)
}

func TestItemHashNormalizesNumbers(t *testing.T) {
	// A payload parsed from JSON (floats) and one built from Go ints
	// describe the same item.
	parsed, err := ParsePayload(`{"level": 3, "scale": 1.5}`)
	require.NoError(t, err)

	built := Payload{"level": 3, "scale": 1.5}

	hp, err := ItemHash("gem", parsed)
	require.NoError(t, err)
	hb, err := ItemHash("gem", built)
	require.NoError(t, err)
	assert.Equal(t, hp, hb)
}

func TestItemHashEmptyPayload(t *testing.T) {
	hNil, err := ItemHash("coin", nil)
	require.NoError(t, err)
	hEmpty, err := ItemHash("coin", Payload{})
	require.NoError(t, err)
	assert.Equal(t, hNil, hEmpty)
}

func TestParsePayloadRejectsMalformed(t *testing.T) {
	_, err := ParsePayload(`{"broken":`)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestPayloadContains(t *testing.T) {
	doc := Payload{
		"color": "red",
		"tags":  []interface{}{"sharp", "heavy"},
		"stats": map[string]interface{}{"attack": 10, "speed": 3},
	}

	cases := []struct {
		name string
		sub  Payload
		want bool
	}{
		{"empty is contained", Payload{}, true},
		{"scalar match", Payload{"color": "red"}, true},
		{"scalar mismatch", Payload{"color": "blue"}, false},
		{"missing key", Payload{"size": "large"}, false},
		{"nested subset", Payload{"stats": map[string]interface{}{"attack": 10}}, true},
		{"nested mismatch", Payload{"stats": map[string]interface{}{"attack": 9}}, false},
		{"array element", Payload{"tags": []interface{}{"sharp"}}, true},
		{"array missing element", Payload{"tags": []interface{}{"light"}}, false},
		{"type mismatch", Payload{"stats": "none"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, doc.Contains(tc.sub))
		})
	}
}

func TestPayloadContainsIsAsymmetric(t *testing.T) {
	demand := Payload{"color": "red"}
	offer := Payload{"color": "red", "enchanted": true}

	assert.True(t, offer.Contains(demand))
	assert.False(t, demand.Contains(offer))
}
