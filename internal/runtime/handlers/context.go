package handlers

import (
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
)

// MessageContextBase holds the headers and logger of the message being handled.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata returns a copy of the current metadata map so handlers can safely
// mutate headers for outgoing events without touching the original map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

func (b MessageContextBase) CorrelationID() string {
	return b.Metadata.CorrelationID()
}

// ReplyTo is empty for fire-and-forget messages.
func (b MessageContextBase) ReplyTo() string {
	return b.Metadata.ReplyTo()
}
