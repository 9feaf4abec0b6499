// Package notify carries domain events from workers to connected clients.
// Events ride their own queue so a slow or disconnected subscriber never
// blocks a scrape.
package notify

// EventType names the kinds of events clients can receive.
type EventType string

const (
	// EventKeywordUpdate signals a keyword status change.
	EventKeywordUpdate EventType = "keyword_update"
	// EventScrapeAttemptCreate signals a new scrape attempt record.
	EventScrapeAttemptCreate EventType = "scrape_attempt_create"
)

// Event is a notification addressed to one owner.
type Event struct {
	// TargetID is the owner the event is for. Only that owner's
	// subscribers receive it.
	TargetID string    `json:"targetId"`
	Type     EventType `json:"eventType"`
	Data     any       `json:"data"`
}
