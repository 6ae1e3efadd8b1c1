package paxos

import (
	"bytes"
	"fmt"
	"io"
)

// Payload is the Multi-Paxos envelope: every datagram on the wire carries
// exactly one. Key selects which per-key server on the receiving node
// handles Message; the same transport multiplexes every key.
type Payload struct {
	Sender NodeID
	Key    []byte
	Msg    Message
}

// EncodePayload serializes a Payload as {sender: u32, key: length-prefixed
// blob, body: tag+fields}.
func EncodePayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	var senderBytes [4]byte
	senderBytes[0] = byte(p.Sender >> 24)
	senderBytes[1] = byte(p.Sender >> 16)
	senderBytes[2] = byte(p.Sender >> 8)
	senderBytes[3] = byte(p.Sender)
	buf.Write(senderBytes[:])
	writeBlob(&buf, p.Key)
	if err := EncodeMessage(&buf, p.Msg); err != nil {
		return nil, fmt.Errorf("paxos: encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(data []byte) (Payload, error) {
	r := bytes.NewReader(data)
	var senderBytes [4]byte
	if _, err := io.ReadFull(r, senderBytes[:]); err != nil {
		return Payload{}, fmt.Errorf("paxos: decode sender: %w", err)
	}
	sender := NodeID(senderBytes[0])<<24 | NodeID(senderBytes[1])<<16 |
		NodeID(senderBytes[2])<<8 | NodeID(senderBytes[3])
	key, err := readBlob(r)
	if err != nil {
		return Payload{}, fmt.Errorf("paxos: decode key: %w", err)
	}
	msg, err := DecodeMessage(r)
	if err != nil {
		return Payload{}, fmt.Errorf("paxos: decode message: %w", err)
	}
	return Payload{Sender: sender, Key: key, Msg: msg}, nil
}
