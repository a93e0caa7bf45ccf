package packet

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec(nil)

	cases := []Packet{
		NewSimpleInPacket("1", "hello"),
		NewSimpleInPacket("2", ""),
		Success("3", "Server received: hello"),
		Success("4", ""),
		Error("5", "boom"),
	}

	for _, in := range cases {
		b, err := codec.Encode(in)
		require.NoError(t, err)

		out, err := codec.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.NoError(t, out.Validate())
	}
}

func TestCodec_EnvelopeShape(t *testing.T) {
	b, err := NewCodec(nil).Encode(Success("7", "ok"))
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &env))
	assert.JSONEq(t, `"OUT_PACKET"`, string(env["type"]))
	assert.JSONEq(t, `{"transactionId":"7","response":"ok","success":true,"errorMessage":null}`, string(env["data"]))

	b, err = NewCodec(nil).Encode(Error("8", "bad"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &env))
	assert.JSONEq(t, `{"transactionId":"8","response":null,"success":false,"errorMessage":"bad"}`, string(env["data"]))
}

func TestCodec_EncodeRejectsInvalid(t *testing.T) {
	codec := NewCodec(nil)

	b, err := codec.Encode(NewSimpleInPacket("", "hello"))
	assert.Nil(t, b)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, TypeSimpleInPacket, ve.Type)

	b, err = codec.Encode(Error("1", ""))
	assert.Nil(t, b)
	assert.ErrorAs(t, err, &ve)

	_, err = codec.Encode(nil)
	assert.ErrorAs(t, err, &ve)
}

func TestCodec_DecodeUnknownType(t *testing.T) {
	p, err := NewCodec(nil).Decode([]byte(`{"type":"DOES_NOT_EXIST","data":{"transactionId":"9"}}`))
	assert.Nil(t, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownType))
	assert.Contains(t, err.Error(), "DOES_NOT_EXIST")

	var ute *UnknownTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "DOES_NOT_EXIST", ute.Type)
	assert.Equal(t, "9", ute.TransactionID)
}

func TestCodec_DecodeMalformed(t *testing.T) {
	codec := NewCodec(nil)

	for _, raw := range []string{
		`not json`,
		`{"data":{}}`,
		`{"type":"SIMPLE_IN_PACKET"}`,
		`{"type":"SIMPLE_IN_PACKET","data":"text"}`,
	} {
		p, err := codec.Decode([]byte(raw))
		assert.Nil(t, p, raw)

		var de *DecodeError
		assert.ErrorAs(t, err, &de, raw)
	}
}

func TestCodec_DecodeBadDataKeepsTransactionID(t *testing.T) {
	_, err := NewCodec(nil).Decode([]byte(`{"type":"SIMPLE_IN_PACKET","data":{"transactionId":"12","message":42}}`))

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, TypeSimpleInPacket, de.Type)
	assert.Equal(t, "12", de.TransactionID)
}

func TestCodec_DecodeDoesNotValidate(t *testing.T) {
	p, err := NewCodec(nil).Decode([]byte(`{"type":"SIMPLE_IN_PACKET","data":{"transactionId":"","message":"x"}}`))
	require.NoError(t, err)
	assert.Error(t, p.Validate())

	p, err = NewCodec(nil).Decode([]byte(`{"type":"OUT_PACKET","data":{"transactionId":"1","success":true}}`))
	require.NoError(t, err)
	assert.EqualError(t, p.Validate(), "Response cannot be null for successful operations")
}

func TestTypeRegistry_LastWriteWins(t *testing.T) {
	r := NewTypeRegistry()
	assert.False(t, r.Has("X"))

	r.Register("X", func([]byte) (Packet, error) { return NewSimpleInPacket("a", ""), nil })
	r.Register("X", func([]byte) (Packet, error) { return NewSimpleInPacket("b", ""), nil })

	decode, err := r.Resolve("X")
	require.NoError(t, err)
	p, err := decode(nil)
	require.NoError(t, err)
	assert.Equal(t, "b", p.TransactionID())
	assert.Equal(t, []string{"X"}, r.Types())
}

func TestBuiltinTypeRegistry(t *testing.T) {
	assert.Equal(t, []string{TypeOutPacket, TypeSimpleInPacket}, NewBuiltinTypeRegistry().Types())
}
