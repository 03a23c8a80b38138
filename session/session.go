// Package session holds the in-memory translation session records and the
// store that owns their lifecycle. The store is the single source of truth for
// session existence: records are created in starting state, promoted to active,
// and removed the moment they end or expire. Nothing survives a restart.
package session

import (
	"time"

	"github.com/AliJawad91/falavox-server/providerapi"
	"github.com/AliJawad91/falavox-server/rtctoken"
)

// Status is the lifecycle state of a translation session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusStopping Status = "stopping"
	StatusEnded    Status = "ended"
)

// Session is one channel's translation session. The channel is the natural key;
// at most one non-ended session exists per channel.
type Session struct {
	ID             string
	Channel        string
	TaskID         string
	SourceLanguage string
	TargetLanguage string
	Status         Status
	CreatedAt      time.Time
	ExpiresAt      time.Time

	// Channel credentials issued for this session: the audio source, the
	// provider's listener identity, and the provider's translated-audio
	// publisher identity.
	Source    rtctoken.Credential
	Listener  rtctoken.Credential
	Publisher rtctoken.Credential

	// Opaque provider task descriptor, set once the task is running.
	TaskInfo *providerapi.TaskInfo
}

// Expired reports whether the session's window has passed at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
