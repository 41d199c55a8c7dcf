package netlog

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const rangeSeparator = ".."

type ModeKind int

const (
	ModeSingle ModeKind = iota
	ModeRange
)

// Mode is either a single timestamp or an inclusive timestamp range.
type Mode struct {
	Kind ModeKind
	From uint64
	To   uint64
}

func Single(ts uint64) Mode      { return Mode{Kind: ModeSingle, From: ts, To: ts} }
func Range(from, to uint64) Mode { return Mode{Kind: ModeRange, From: from, To: to} }

// Query is a parsed lookup request. Compress only applies to range queries.
type Query struct {
	Mode     Mode
	Compress bool
}

func parseTimestamp(s string) (uint64, error) {
	if s == "" {
		return 0, errors.Wrap(ErrInvalidQuery, "empty timestamp")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidQuery, "invalid timestamp %q", s)
	}
	return v, nil
}

// ParseTime parses "<ts>" into a single mode and "<from>..<to>" into a range.
func ParseTime(s string) (Mode, error) {
	if !strings.Contains(s, rangeSeparator) {
		ts, err := parseTimestamp(s)
		if err != nil {
			return Mode{}, err
		}
		return Single(ts), nil
	}
	parts := strings.Split(s, rangeSeparator)
	if len(parts) != 2 {
		return Mode{}, errors.Wrapf(ErrInvalidQuery, "invalid range %q", s)
	}
	from, err := parseTimestamp(parts[0])
	if err != nil {
		return Mode{}, err
	}
	to, err := parseTimestamp(parts[1])
	if err != nil {
		return Mode{}, err
	}
	return Range(from, to), nil
}

// ParseQuery reads the time and bzip3 parameters. bzip3 defaults to true.
func ParseQuery(values url.Values) (Query, error) {
	if _, ok := values["time"]; !ok {
		return Query{}, errors.Wrap(ErrInvalidQuery, "missing time parameter")
	}
	mode, err := ParseTime(values.Get("time"))
	if err != nil {
		return Query{}, err
	}
	q := Query{Mode: mode, Compress: true}
	if raw := values.Get("bzip3"); raw != "" {
		q.Compress, err = strconv.ParseBool(raw)
		if err != nil {
			return Query{}, errors.Wrapf(ErrInvalidQuery, "invalid bzip3 parameter %q", raw)
		}
	}
	return q, nil
}
