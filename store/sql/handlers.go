package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func dispatchLogHandlers() repository.ModelHandlers[*dispatchLogRecord] {
	return repository.ModelHandlers[*dispatchLogRecord]{
		NewRecord: func() *dispatchLogRecord {
			return &dispatchLogRecord{}
		},
		GetID: func(record *dispatchLogRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *dispatchLogRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *dispatchLogRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func trackingEventHandlers() repository.ModelHandlers[*trackingEventRecord] {
	return repository.ModelHandlers[*trackingEventRecord]{
		NewRecord: func() *trackingEventRecord {
			return &trackingEventRecord{}
		},
		GetID: func(record *trackingEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *trackingEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *trackingEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
