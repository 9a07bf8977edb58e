package natsbus

import (
	"fmt"

	"github.com/hupe1980/agentcouncil/core"
)

// SubjectPrefix is the root of every subject published by the council.
const SubjectPrefix = "council"

// TopicAllRecords matches every record subject.
const TopicAllRecords = SubjectPrefix + ".records.>"

// TopicRecord is the subject for a record of kind with status,
// e.g. council.records.pipeline_run.succeeded.
func TopicRecord(kind core.RecordKind, status string) string {
	if status == "" {
		status = "unknown"
	}
	return fmt.Sprintf("%s.records.%s.%s", SubjectPrefix, kind, status)
}

// TopicKind matches every record subject of kind.
func TopicKind(kind core.RecordKind) string {
	return fmt.Sprintf("%s.records.%s.*", SubjectPrefix, kind)
}
