package app

import "time"

const (
	Name            = "meshola"
	ConfigFilename  = "config.json"
	LogFilename     = "meshola.log"
	StateDBFilename = "state.db"
	DataDirName     = "data"

	writerQueueCapacity = 512
	shutdownTimeout     = 5 * time.Second
)
