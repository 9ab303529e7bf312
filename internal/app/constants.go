package app

const (
	Name           = "veeposync"
	ConfigFilename = "config.json"
	DBFilename     = "cache.db"
	LogFilename    = "veeposync.log"
	// writerQueueCapacity bounds pending cache writes before Enqueue spills
	// into goroutines.
	writerQueueCapacity = 512
)
