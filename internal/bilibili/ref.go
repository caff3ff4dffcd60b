package bilibili

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

var (
	ErrIdentify  = errors.New("input is not a recognizable video id")
	ErrShortLink = fmt.Errorf("%w: short links must be expanded before submitting", ErrIdentify)
)

// VideoRef is the canonical identifier of a video. Exactly one of BVID and AID is
// set by Identify; metadata lookups may fill in the other one.
type VideoRef struct {
	BVID string `json:"bvid,omitempty" yaml:"bvid,omitempty"`
	AID  int64  `json:"aid,omitempty" yaml:"aid,omitempty"`
}

func (r VideoRef) String() string {
	if r.BVID != "" {
		return r.BVID
	}
	return "av" + strconv.FormatInt(r.AID, 10)
}

func (r VideoRef) IsZero() bool { return r.BVID == "" && r.AID == 0 }

// Query returns the id parameter the platform endpoints expect, preferring bvid.
func (r VideoRef) Query() url.Values {
	q := url.Values{}
	if r.BVID != "" {
		q.Set("bvid", r.BVID)
	} else {
		q.Set("aid", strconv.FormatInt(r.AID, 10))
	}
	return q
}

type pattern struct {
	re   *regexp.Regexp
	kind string
}

// evaluated in order, first match wins
var patterns = []pattern{
	{regexp.MustCompile(`^(BV[0-9A-Za-z]{10})$`), "bv"},
	{regexp.MustCompile(`^av(\d+)$`), "av"},
	{regexp.MustCompile(`bilibili\.com/video/(BV[0-9A-Za-z]{10})`), "bv"},
	{regexp.MustCompile(`bilibili\.com/video/av(\d+)`), "av"},
	{regexp.MustCompile(`(?:^|[^0-9A-Za-z])(BV[0-9A-Za-z]{10})(?:$|[^0-9A-Za-z])`), "bv"},
	{regexp.MustCompile(`(?:^|[^0-9A-Za-z])av(\d+)(?:$|[^0-9A-Za-z])`), "av"},
}

var shortLink = regexp.MustCompile(`b23\.tv/\w+`)

// Identify turns free-form input (bare id, video URL) into a VideoRef.
// It never touches the network.
func Identify(input string) (VideoRef, error) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(input)
		if m == nil {
			continue
		}

		switch p.kind {
		case "bv":
			return VideoRef{BVID: m[1]}, nil
		case "av":
			aid, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil || aid <= 0 {
				continue
			}
			return VideoRef{AID: aid}, nil
		}
	}

	if shortLink.MatchString(input) {
		return VideoRef{}, ErrShortLink
	}

	return VideoRef{}, ErrIdentify
}
