package replication

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/mod/semver"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mpapenbr/race-progress/pkg/model"
	"github.com/mpapenbr/race-progress/pkg/transport"
)

// ProtocolVersion is sent with every update.
// Peers must agree on the major version.
const ProtocolVersion = "v1.0.0"

var (
	ErrIncompatibleVersion = errors.New("incompatible protocol version")
	ErrMalformedUpdate     = errors.New("malformed update")
)

// field numbers of the update message
const (
	fieldVersion protowire.Number = iota + 1
	fieldKind
	fieldOrigin
	fieldRacerID
	fieldSeq
	fieldWaypointIndex
	fieldProgress
	fieldLapsCompleted
	fieldCurrentLapStart
	fieldLastLapTime
	fieldBestLapTime
	fieldTotalRaceTime
)

// Codec converts updates to and from protobuf wire format
type Codec struct {
	version string
}

func NewCodec() *Codec {
	return &Codec{version: ProtocolVersion}
}

func (c *Codec) Encode(u transport.Update) []byte {
	s := u.Snapshot
	b := make([]byte, 0, 96)
	b = appendString(b, fieldVersion, c.version)
	b = appendVarint(b, fieldKind, uint64(u.Kind))
	b = appendString(b, fieldOrigin, u.Origin)
	b = appendString(b, fieldRacerID, string(s.ID))
	b = appendVarint(b, fieldSeq, s.Seq)
	b = appendVarint(b, fieldWaypointIndex, uint64(s.WaypointIndex))
	b = appendDouble(b, fieldProgress, s.Progress)
	b = appendVarint(b, fieldLapsCompleted, uint64(s.LapsCompleted))
	b = appendDouble(b, fieldCurrentLapStart, s.CurrentLapStartTime)
	b = appendDouble(b, fieldLastLapTime, s.LastLapTime)
	b = appendDouble(b, fieldBestLapTime, s.BestLapTime)
	b = appendDouble(b, fieldTotalRaceTime, s.TotalRaceTime)
	return b
}

// Decode parses an encoded update. Unknown fields are skipped.
//
//nolint:funlen,cyclop,gocognit // field dispatch
func (c *Codec) Decode(b []byte) (transport.Update, error) {
	var u transport.Update
	version := ""
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return u, fmt.Errorf("%w: %w", ErrMalformedUpdate, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType &&
			(num == fieldVersion || num == fieldOrigin || num == fieldRacerID):
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return u, fmt.Errorf("%w: %w", ErrMalformedUpdate, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldVersion:
				version = v
			case fieldOrigin:
				u.Origin = v
			case fieldRacerID:
				u.Snapshot.ID = model.RacerID(v)
			}
		case typ == protowire.VarintType &&
			(num == fieldKind || num == fieldSeq ||
				num == fieldWaypointIndex || num == fieldLapsCompleted):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return u, fmt.Errorf("%w: %w", ErrMalformedUpdate, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldKind:
				u.Kind = transport.Kind(v)
			case fieldSeq:
				u.Snapshot.Seq = v
			case fieldWaypointIndex:
				u.Snapshot.WaypointIndex = int(v)
			case fieldLapsCompleted:
				u.Snapshot.LapsCompleted = int(v)
			}
		case typ == protowire.Fixed64Type && num >= fieldProgress:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return u, fmt.Errorf("%w: %w", ErrMalformedUpdate, protowire.ParseError(n))
			}
			b = b[n:]
			f := math.Float64frombits(v)
			switch num {
			case fieldProgress:
				u.Snapshot.Progress = f
			case fieldCurrentLapStart:
				u.Snapshot.CurrentLapStartTime = f
			case fieldLastLapTime:
				u.Snapshot.LastLapTime = f
			case fieldBestLapTime:
				u.Snapshot.BestLapTime = f
			case fieldTotalRaceTime:
				u.Snapshot.TotalRaceTime = f
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return u, fmt.Errorf("%w: %w", ErrMalformedUpdate, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if err := c.checkVersion(version); err != nil {
		return u, err
	}
	if u.Kind != transport.KindState && u.Kind != transport.KindLeave {
		return u, fmt.Errorf("%w: unknown kind %d", ErrMalformedUpdate, u.Kind)
	}
	if u.Snapshot.ID == "" {
		return u, fmt.Errorf("%w: missing racer id", ErrMalformedUpdate)
	}
	return u, nil
}

func (c *Codec) checkVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: invalid version %q", ErrIncompatibleVersion, v)
	}
	if semver.Major(v) != semver.Major(c.version) {
		return fmt.Errorf("%w: got %s, want %s.x", ErrIncompatibleVersion,
			v, semver.Major(c.version))
	}
	return nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}
