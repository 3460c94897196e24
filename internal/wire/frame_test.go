package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Validate(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{"ping", Ping(), false},
		{"pong", Pong(), false},
		{"subscribe", Subscribe("trades"), false},
		{"unsubscribe", Unsubscribe("trades"), false},
		{"data", Data("trades", json.RawMessage(`{}`)), false},
		{"subscribe without channel", Frame{Type: TypeSubscribe}, true},
		{"data without channel", Frame{Type: TypeData}, true},
		{"missing type", Frame{}, true},
		{"unknown type", Frame{Type: "gossip", Channel: "x"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frame.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	f, err := Decode([]byte(`{"type":"data","channel":"trades","payload":{"price":42}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeData, f.Type)
	assert.Equal(t, "trades", f.Channel)
	assert.JSONEq(t, `{"price":42}`, string(f.Payload))
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"channel":"x"}`))
	assert.Error(t, err, "missing type must be rejected")
}

func TestEncode_RejectsInvalid(t *testing.T) {
	_, err := Encode(Frame{Type: TypeSubscribe})
	assert.Error(t, err)
}

func TestEncode_OmitsEmptyFields(t *testing.T) {
	data, err := Encode(Ping())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))
}
