// Package types defines core domain types shared across the nvplug runtime.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// TransportMode selects how the plugin process reaches the editor.
type TransportMode string

const (
	// ModeStdio means this process was launched by the editor and speaks
	// msgpack-RPC over its own stdin/stdout.
	ModeStdio TransportMode = "stdio"
	// ModeSocket means this process connects to a listening editor.
	ModeSocket TransportMode = "socket"
	// ModeEmbed means this process spawns the editor as a child with --embed.
	ModeEmbed TransportMode = "embed"
)

// ParseTransportMode parses a transport mode string.
func ParseTransportMode(s string) (TransportMode, error) {
	switch TransportMode(s) {
	case ModeStdio, ModeSocket, ModeEmbed:
		return TransportMode(s), nil
	case "":
		return ModeStdio, nil
	default:
		return "", fmt.Errorf("invalid transport mode %q (must be stdio, socket or embed)", s)
	}
}

// identPattern matches names usable inside editor identifiers.
var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// SessionMeta identifies one plugin process lifetime.
// Every log entry, metric snapshot and lifecycle event carries it.
type SessionMeta struct {
	// SessionID is unique per process start.
	SessionID string
	// PluginName is the plugin name, used for `full` prefixes and augroups.
	PluginName string
	// Prefix is the short prefix, used for `short` prefixes and the
	// <prefix>_started editor variable.
	Prefix string
	// Mode is the transport mode.
	Mode TransportMode
}

// NewSessionMeta creates session metadata with a fresh session id.
// An empty prefix defaults to the plugin name.
func NewSessionMeta(pluginName, prefix string, mode TransportMode) *SessionMeta {
	if prefix == "" {
		prefix = pluginName
	}
	return &SessionMeta{
		SessionID:  uuid.NewString(),
		PluginName: pluginName,
		Prefix:     prefix,
		Mode:       mode,
	}
}

// Validate checks that names are usable as editor identifiers.
func (s *SessionMeta) Validate() error {
	if s.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}
	if !identPattern.MatchString(s.PluginName) {
		return fmt.Errorf("plugin name %q must start with a letter and contain only letters, digits and underscores", s.PluginName)
	}
	if !identPattern.MatchString(s.Prefix) {
		return fmt.Errorf("prefix %q must start with a letter and contain only letters, digits and underscores", s.Prefix)
	}
	if _, err := ParseTransportMode(string(s.Mode)); err != nil {
		return err
	}
	return nil
}
