// Package signal describes the hash types the matcher understands and the
// registry that maps a signal type name to its validator, index kind and
// default threshold.
package signal

import (
	"errors"
	"fmt"

	"hashmatch/internal/pkg/hash"
	"hashmatch/internal/pkg/index"
)

// ErrInvalidSignal is returned when a value fails its type's validator.
var ErrInvalidSignal = errors.New("invalid signal")

// ContentType is the kind of media a signal is extracted from.
type ContentType string

const (
	ContentTypePhoto ContentType = "photo"
	ContentTypeVideo ContentType = "video"
)

// Type describes one signal type.
type Type interface {
	Name() string
	// Validate rejects any value not already in canonical form.
	Validate(value string) error
	ContentTypes() []ContentType
	// IndexKind picks the index implementation for a corpus of n entries.
	IndexKind(n int) index.Kind
	DefaultThreshold() int
}

// PDQ is the 256-bit image hash.
type PDQ struct {
	// Threshold is the default match distance.
	Threshold int
	// MIHMinEntries is the corpus size at which multi-index hashing
	// replaces the flat scan.
	MIHMinEntries int
}

const (
	PDQName              = "pdq"
	PDQDefaultThreshold  = 31
	DefaultMIHMinEntries = 1024
)

func (p PDQ) Name() string { return PDQName }

func (p PDQ) Validate(value string) error {
	if !hash.ValidHex(value) {
		return fmt.Errorf("%w: %s value must be 64 lowercase hex characters", ErrInvalidSignal, PDQName)
	}
	return nil
}

func (p PDQ) ContentTypes() []ContentType { return []ContentType{ContentTypePhoto} }

func (p PDQ) IndexKind(n int) index.Kind {
	if n < p.MIHMinEntries {
		return index.KindFlat
	}
	return index.KindMIH
}

func (p PDQ) DefaultThreshold() int { return p.Threshold }

// VideoMD5 is the exact digest of a video file.
type VideoMD5 struct{}

const (
	VideoMD5Name = "video_md5"
	md5HexLen    = 32
)

func (VideoMD5) Name() string { return VideoMD5Name }

func (VideoMD5) Validate(value string) error {
	if len(value) != md5HexLen {
		return fmt.Errorf("%w: %s value must be %d lowercase hex characters", ErrInvalidSignal, VideoMD5Name, md5HexLen)
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return fmt.Errorf("%w: %s value contains %q", ErrInvalidSignal, VideoMD5Name, c)
		}
	}
	return nil
}

func (VideoMD5) ContentTypes() []ContentType { return []ContentType{ContentTypeVideo} }

func (VideoMD5) IndexKind(int) index.Kind { return index.KindExact }

func (VideoMD5) DefaultThreshold() int { return 0 }
