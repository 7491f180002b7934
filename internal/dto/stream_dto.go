package dto

import "time"

// Stream topics mirror the tables clients subscribe to.
const (
	StreamTopicMessages    = "messages"
	StreamTopicPosts       = "posts"
	StreamTopicConnections = "connection_requests"
)

// Stream actions mirror the row-change kinds.
const (
	StreamActionInsert = "INSERT"
	StreamActionUpdate = "UPDATE"
	StreamActionDelete = "DELETE"
)

// StreamEvent is a change notification delivered to subscribers of a
// (topic, filter) pair. Counter updates carry the new aggregate values so
// consumers patch rows in place; other changes set Refetch to signal a full
// reload of the affected list.
type StreamEvent struct {
	Topic      string                     `json:"topic"`
	Action     string                     `json:"action"`
	Filter     string                     `json:"filter,omitempty"`
	Message    *MessageResponse           `json:"message,omitempty"`
	PostID     uint                       `json:"post_id,omitempty"`
	Counters   *PostCounters              `json:"counters,omitempty"`
	Connection *ConnectionRequestResponse `json:"connection,omitempty"`
	Refetch    bool                       `json:"refetch,omitempty"`
	SentAt     time.Time                  `json:"sent_at"`
}
