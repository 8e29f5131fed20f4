package models

// TopicInfo is the relay's public view of a topic.
type TopicInfo struct {
	Topic     string `json:"topic"`
	PeerCount int    `json:"peerCount"`
}
