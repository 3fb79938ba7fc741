package config

type WorkerKeyStruct struct {
	PersistAttemptHistoryQueue string
	// PersistAttemptHistoryDead holds rows that kept failing to insert.
	PersistAttemptHistoryDead string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAttemptHistoryQueue: "persist_attempt_history_queue",
	PersistAttemptHistoryDead:  "persist_attempt_history_dead",
}
