package natsbus

import "fmt"

// Subject layout:
//
//	session.<session>.messages   agent messages published on the bus
//	events.<topic>.<session>     coordinator lifecycle events

func TopicSessionMessages(sessionID string) string {
	return fmt.Sprintf("session.%s.messages", sessionID)
}

func TopicEvents(topic, sessionID string) string {
	return fmt.Sprintf("events.%s.%s", topic, sessionID)
}

func TopicEventsSession(sessionID string) string {
	return fmt.Sprintf("events.*.%s", sessionID)
}

const (
	TopicMessagesAll = "session.*.messages"
	TopicEventsAll   = "events.>"
)
