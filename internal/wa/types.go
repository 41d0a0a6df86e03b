// Package wa talks to WhatsApp: the Cloud API for sends, an optional
// linked device for a second inbound channel, and wa.me deep links.
package wa

import "time"

// Channels an inbound message can arrive on.
const (
	ChannelCloud  = "cloud"
	ChannelDevice = "device"
)

// InboundMessage is a customer message normalised from either channel.
type InboundMessage struct {
	ID        string
	From      string
	Name      string
	Type      string
	Text      string
	Timestamp time.Time
	Raw       []byte
}

// StatusUpdate reports delivery progress of a message we sent.
type StatusUpdate struct {
	ID        string
	Status    string
	Recipient string
	Timestamp time.Time
}
