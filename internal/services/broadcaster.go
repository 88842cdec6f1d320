package services

// Broadcaster fans game events out to subscribers of a channel. The real
// implementation lives in the websocket hub; engines only know this contract.
type Broadcaster interface {
	Emit(channel, event string, payload any)
}

// NopBroadcaster drops every event. Used in tests and as a safe default.
type NopBroadcaster struct{}

func (NopBroadcaster) Emit(channel, event string, payload any) {}
