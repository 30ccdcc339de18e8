// Package runnerevent parses the sentinel-prefixed lines a build agent
// writes to its output log into typed events the supervisor can act on.
package runnerevent

import "strings"

const (
	prefixConfigurationDone   = "RUNNER_CONFIGURATION_DONE"
	prefixFinished            = "RUNNER_FINISHED"
	prefixGitHash             = "GIT_HASH="
	prefixArtifactNameAndHash = "ARTIFACT_NAME_AND_HASH="
	prefixLog                 = "LOG "
	prefixTimestamp           = "TIMESTAMP "
)

// Kind identifies which event a parsed line represents.
type Kind int

const (
	// Unrecognized lines are not protocol events; callers should usually
	// ignore them rather than treat them as an error.
	Unrecognized Kind = iota
	ConfigurationDone
	Finished
	CommitHash
	ArtifactNameAndHash
	LogLine
	TimestampMarker
)

// Event is the parsed form of one line of build-agent output.
type Event struct {
	Kind Kind

	CommitHash string // CommitHash

	ArtifactName string // ArtifactNameAndHash
	ArtifactHash string // ArtifactNameAndHash

	Message string // LogLine

	Marker   string // TimestampMarker
	Datetime string // TimestampMarker
}

// ParseLine classifies a single line of build-agent output. A line with no
// recognized sentinel prefix parses as Kind Unrecognized with no error;
// malformed sentinel lines (e.g. a missing ';' separator) also return
// Unrecognized rather than an error, since a corrupt line should not abort
// the build.
func ParseLine(line string) Event {
	switch {
	case strings.HasPrefix(line, prefixConfigurationDone):
		return Event{Kind: ConfigurationDone}
	case strings.HasPrefix(line, prefixFinished):
		return Event{Kind: Finished}
	case strings.HasPrefix(line, prefixGitHash):
		return Event{Kind: CommitHash, CommitHash: strings.TrimSpace(strings.TrimPrefix(line, prefixGitHash))}
	case strings.HasPrefix(line, prefixArtifactNameAndHash):
		rest := strings.TrimPrefix(line, prefixArtifactNameAndHash)
		name, hash, ok := strings.Cut(rest, ";")
		if !ok {
			return Event{Kind: Unrecognized}
		}
		return Event{Kind: ArtifactNameAndHash, ArtifactName: name, ArtifactHash: hash}
	case strings.HasPrefix(line, prefixLog):
		return Event{Kind: LogLine, Message: strings.TrimPrefix(line, prefixLog)}
	case strings.HasPrefix(line, prefixTimestamp):
		rest := strings.TrimPrefix(line, prefixTimestamp)
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return Event{Kind: Unrecognized}
		}
		return Event{Kind: TimestampMarker, Marker: fields[0], Datetime: fields[1]}
	default:
		return Event{Kind: Unrecognized}
	}
}
