package config

// Constants defining default values for application configuration
const (
	DefaultSubscriptionsPath = "./subscriptions.opml"
	DefaultDBPath            = "./newsfeed.db"

	// RemoteSubscriptionsURL is downloaded when the local subscription list is missing.
	// Empty disables the download.
	RemoteSubscriptionsURL = ""

	DefaultStoreDriver   = "sqlite"
	DefaultMongoURI      = "mongodb://localhost:27017"
	DefaultMongoDatabase = "rss-parser"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultWorkerCount   = 0 // 0 means use runtime.NumCPU()
	DefaultInterval      = 5 // Minutes between processing runs
	DefaultRetentionDays = 7 // Days before a post expires
	DefaultFetchMode     = "normalized"
	DefaultFeedTimeout   = 2  // Minutes allowed for a single feed
	DefaultRunTimeout    = 30 // Minutes allowed for a whole run

	DefaultClassifyCeiling = 100
	DefaultClassifyTimeout = 90 // Seconds allowed for the classification call
	DefaultClassifyModel   = "claude-haiku-4-5"

	DefaultLogLevel = "debug"
)
