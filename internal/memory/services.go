package memory

// Service names under which modules publish memory components in the
// core.AppContext registry.
const (
	ServiceStore     = "memory.store"
	ServiceEmbedder  = "memory.embedder"
	ServiceFinder    = "memory.finder"
	ServiceIndexer   = "memory.indexer"
	ServiceObserver  = "memory.observer"
	ServiceEngine    = "memory.engine"
	ServiceExtractor = "memory.extractor"

	// ServiceMaintenance publishes a value with Optimize and Checkpoint
	// methods, used by the maintenance cron jobs.
	ServiceMaintenance = "memory.maintenance"
)
