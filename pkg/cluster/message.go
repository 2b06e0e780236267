package cluster

import (
	"fmt"

	"nsmeta/pkg/compression"
	"nsmeta/pkg/directory"
	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/metadata"
)

// gossip message: compression frame around Message(map, List(announcements))
type message struct {
	tables        *metadata.Namespaces
	announcements []directory.Announcement
}

func encodeMessage(codec compression.Codec, msg message) ([]byte, error) {
	anns := make([]custom.Value, len(msg.announcements))
	for i, a := range msg.announcements {
		anns[i] = a.MarshalValue()
	}
	raw, err := custom.Frame(custom.Message(msg.tables.MarshalValue(), custom.List(anns...)))
	if err != nil {
		return nil, fmt.Errorf("encode gossip message: %w", err)
	}
	return compression.Wrap(codec, raw)
}

func decodeMessage(data []byte) (message, error) {
	raw, err := compression.Unwrap(data)
	if err != nil {
		return message{}, fmt.Errorf("gossip message: %w", err)
	}
	v, err := custom.Unframe(raw)
	if err != nil {
		return message{}, fmt.Errorf("gossip message: %w", err)
	}
	fields, err := v.AsMessage(2)
	if err != nil {
		return message{}, fmt.Errorf("gossip message: %w", err)
	}

	tables, err := metadata.UnmarshalNamespaces(fields[0])
	if err != nil {
		return message{}, fmt.Errorf("gossip message: %w", err)
	}
	items, err := fields[1].AsList()
	if err != nil {
		return message{}, fmt.Errorf("gossip announcements: %w", err)
	}
	msg := message{tables: tables, announcements: make([]directory.Announcement, len(items))}
	for i, item := range items {
		if msg.announcements[i], err = directory.UnmarshalAnnouncement(item); err != nil {
			return message{}, fmt.Errorf("gossip announcement %d: %w", i, err)
		}
	}
	return msg, nil
}
