package models

// FeedDescriptor is one subscribed feed resolved from the subscription list.
type FeedDescriptor struct {
	Group       string // label of the enclosing outline group, informational only
	SourceLabel string
	FeedURL     string
}
