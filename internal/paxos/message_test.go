package paxos

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTripMessage(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, EncodeMessage(&buf, msg))
	got, err := DecodeMessage(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	return got
}

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		Prepare{ID: 7},
		Promise{ID: 7, Prev: nil},
		Promise{ID: 9, Prev: &Accepted{ID: 3, Value: []byte("prior")}},
		Nack{ID: 12},
		Accept{ID: 7, Value: []byte("hello")},
		Accepted{ID: 7, Value: []byte("hello")},
		Query{},
		QueryResponse{Prev: nil},
		QueryResponse{Prev: &Accepted{ID: 4, Value: []byte("v")}},
		Consensus{Value: []byte("final")},
	}

	for _, want := range cases {
		got := roundTripMessage(t, want)
		require.Equal(t, want, got)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := Payload{
		Sender: 3,
		Key:    []byte("ledger:0"),
		Msg:    Accept{ID: 42, Value: []byte("cmd")},
	}

	data, err := EncodePayload(payload)
	require.NoError(t, err)

	got, err := DecodePayload(data)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecodeMessageRejectsUnknownTag(t *testing.T) {
	_, err := DecodeMessage(bytes.NewReader([]byte{255}))
	require.Error(t, err)
}

func TestDecodeMessageRejectsTruncatedInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeMessage(&buf, Accept{ID: 7, Value: []byte("hello")}))
	full := buf.Bytes()

	// Every strict prefix of a valid encoding is malformed and must not
	// decode into a zero-padded message.
	for n := 1; n < len(full); n++ {
		_, err := DecodeMessage(bytes.NewReader(full[:n]))
		require.Error(t, err, "prefix of length %d decoded successfully", n)
	}
}
