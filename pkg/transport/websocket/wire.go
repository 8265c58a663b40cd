package websocket

import "github.com/wallet-connect-x/walletrelay/pkg/protocol"

// frameType discriminates the minimal JSON-over-WebSocket wire protocol
// this binding speaks to the relay: subscribe/unsubscribe/publish flow
// client->relay, message flows relay->client.
type frameType string

const (
	frameSubscribe   frameType = "subscribe"
	frameUnsubscribe frameType = "unsubscribe"
	framePublish     frameType = "publish"
	frameMessage     frameType = "message"
)

// frame is the single wire shape exchanged in both directions.
type frame struct {
	Type     frameType                  `json:"type"`
	Channel  string                     `json:"channel"`
	Envelope *protocol.EncryptedEnvelope `json:"envelope,omitempty"`
	Source   string                     `json:"source,omitempty"` // "history" | "live", relay->client only
}
