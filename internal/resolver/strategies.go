package resolver

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/marcopiovanello/stein-dl/internal/bilibili"
)

// paramStrategy sends a fixed parameter set to one playurl endpoint.
type paramStrategy struct {
	name   string
	path   string
	params func(ref bilibili.VideoRef, cid int64, quality int) url.Values
}

func (p *paramStrategy) Name() string { return p.name }

func (p *paramStrategy) Fetch(ctx context.Context, f PlayURLFetcher, ref bilibili.VideoRef, cid int64, quality int) (*bilibili.PlayURL, error) {
	return f.PlayURL(ctx, p.path, p.params(ref, cid, quality))
}

func baseParams(ref bilibili.VideoRef, cid int64, quality int) url.Values {
	q := ref.Query()
	q.Set("cid", strconv.FormatInt(cid, 10))
	q.Set("qn", strconv.Itoa(quality))
	q.Set("fnver", "0")
	q.Set("fourk", "1")
	return q
}

// Primary requests every adaptive feature at once.
func Primary() Strategy {
	return &paramStrategy{
		name: "playurl",
		path: bilibili.PlayURLPath,
		params: func(ref bilibili.VideoRef, cid int64, quality int) url.Values {
			q := baseParams(ref, cid, quality)
			q.Set("fnval", "4048")
			q.Set("session", Session())
			q.Set("otype", "json")
			q.Set("type", "")
			q.Set("ps", "1")
			return q
		},
	}
}

// Secondary uses the plain DASH flag, which interactive videos accept on
// accounts where the primary flag set is rejected.
func Secondary() Strategy {
	return &paramStrategy{
		name: "playurl-dash",
		path: bilibili.PlayURLPath,
		params: func(ref bilibili.VideoRef, cid int64, quality int) url.Values {
			q := baseParams(ref, cid, quality)
			q.Set("fnval", "16")
			q.Set("session", Session())
			q.Set("otype", "json")
			q.Set("high_quality", "1")
			q.Set("platform", "pc")
			return q
		},
	}
}

// Tertiary asks the course (pugv) endpoint family.
func Tertiary() Strategy {
	return &paramStrategy{
		name: "pugv",
		path: bilibili.PugvPlayPath,
		params: func(ref bilibili.VideoRef, cid int64, quality int) url.Values {
			q := baseParams(ref, cid, quality)
			q.Set("fnval", "4048")
			if ref.AID != 0 {
				q.Set("avid", strconv.FormatInt(ref.AID, 10))
			} else {
				q.Set("avid", "")
			}
			return q
		},
	}
}

func DefaultStrategies() []Strategy {
	return []Strategy{Primary(), Secondary(), Tertiary()}
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Session returns a random request session token: a random base36 part
// followed by the current time in base36.
func Session() string {
	buf := make([]byte, 11)
	radix := big.NewInt(int64(len(base36)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, radix)
		if err != nil {
			buf[i] = base36[i%len(base36)]
			continue
		}
		buf[i] = base36[n.Int64()]
	}
	return string(buf) + strconv.FormatInt(time.Now().UnixMilli(), 36)
}
