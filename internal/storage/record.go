package storage

import (
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zlepper/brqueue/internal/message"
	"github.com/zlepper/brqueue/internal/tagset"
)

// recordMessage is the on-disk encoding of a message.Message. It uses
// only plain msgpack-native types (string, bytes, string slice, uint8) so
// the record is deterministic and self-delimiting independent of any
// custom codec on message.Message or tagset.Set, matching spec.md §6's
// requirement that the encoding be identical across the append path and
// the compaction rewrite path.
type recordMessage struct {
	Id       string   `msgpack:"id"`
	Payload  []byte   `msgpack:"payload"`
	Required []string `msgpack:"required"`
	Priority uint8    `msgpack:"priority"`
}

func encodeMessage(msg message.Message) recordMessage {
	required := msg.Required.Slice()
	sort.Strings(required)
	return recordMessage{
		Id:       msg.Id.String(),
		Payload:  msg.Payload,
		Required: required,
		Priority: uint8(msg.Priority),
	}
}

func (r recordMessage) decode() (message.Message, error) {
	id, err := uuid.Parse(r.Id)
	if err != nil {
		return message.Message{}, errors.Wrap(err, "storage: corrupt record id")
	}
	return message.Message{
		Id:       id,
		Payload:  r.Payload,
		Required: tagset.New(r.Required...),
		Priority: message.Priority(r.Priority),
	}, nil
}

// writeMessageRecord appends one self-delimiting message record via enc.
func writeMessageRecord(enc *msgpack.Encoder, msg message.Message) error {
	return enc.Encode(encodeMessage(msg))
}

// writeIdRecord appends one self-delimiting id record via enc.
func writeIdRecord(enc *msgpack.Encoder, id uuid.UUID) error {
	return enc.EncodeString(id.String())
}

// readMessageRecords decodes every message record from r until EOF.
func readMessageRecords(r io.Reader) ([]message.Message, error) {
	dec := msgpack.NewDecoder(r)

	var out []message.Message
	for {
		var rec recordMessage
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrap(err, "storage: failed to decode message record")
		}
		msg, err := rec.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// readIdRecords decodes every id record from r until EOF, into a set.
func readIdRecords(r io.Reader) (map[uuid.UUID]struct{}, error) {
	dec := msgpack.NewDecoder(r)

	ids := make(map[uuid.UUID]struct{})
	for {
		s, err := dec.DecodeString()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrap(err, "storage: failed to decode completed-id record")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrap(err, "storage: corrupt completed-id record")
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}
