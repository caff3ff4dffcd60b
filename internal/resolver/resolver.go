package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/marcopiovanello/stein-dl/internal/bilibili"
)

var (
	ErrNoStream  = errors.New("no compatible stream in response")
	ErrExhausted = errors.New("unable to get a stream from any endpoint")
)

// Track is one resolved media track.
type Track struct {
	URL     string `json:"url"`
	Quality int    `json:"quality"`
	Codec   string `json:"codec,omitempty"`
}

// Descriptor is a playable media description. When Muxed is set, Video and
// Audio point at the same already-muxed file.
type Descriptor struct {
	Video Track `json:"video"`
	Audio Track `json:"audio"`
	Muxed bool  `json:"muxed"`

	RequestedQuality int    `json:"requestedQuality"`
	Substituted      bool   `json:"substituted"`
	Strategy         string `json:"strategy"`
}

// PlayURLFetcher queries one stream resolution endpoint.
type PlayURLFetcher interface {
	PlayURL(ctx context.Context, path string, q url.Values) (*bilibili.PlayURL, error)
}

// Strategy is one way of asking the platform for a stream.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, f PlayURLFetcher, ref bilibili.VideoRef, cid int64, quality int) (*bilibili.PlayURL, error)
}

type Resolver struct {
	fetcher    PlayURLFetcher
	strategies []Strategy
}

// New returns a resolver trying strategies in the given order, or the default
// primary/secondary/tertiary chain when none are given.
func New(fetcher PlayURLFetcher, strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Resolver{fetcher: fetcher, strategies: strategies}
}

// Resolve tries every strategy in order and returns the first usable descriptor.
// Each strategy failure, whether transport, api or parse, moves on to the next one.
func (r *Resolver) Resolve(ctx context.Context, ref bilibili.VideoRef, cid int64, quality int) (*Descriptor, error) {
	slog.Info("resolving stream",
		slog.String("video", ref.String()),
		slog.Int64("cid", cid),
		slog.Int("quality", quality),
	)

	var errs []error

	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		data, err := s.Fetch(ctx, r.fetcher, ref, cid, quality)
		if err == nil {
			var d *Descriptor
			d, err = Parse(data, quality)
			if err == nil {
				d.Strategy = s.Name()
				if d.Substituted {
					slog.Info("requested quality not available",
						slog.Int64("cid", cid),
						slog.Int("requested", quality),
						slog.Int("selected", d.Video.Quality),
					)
				}
				return d, nil
			}
		}

		slog.Warn("stream strategy failed",
			slog.String("strategy", s.Name()),
			slog.Int64("cid", cid),
			slog.Any("err", err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}

	return nil, errors.Join(append([]error{ErrExhausted}, errs...)...)
}

// Parse converts a raw playurl payload into a descriptor. Adaptive output wins
// over the legacy single-file output.
func Parse(data *bilibili.PlayURL, quality int) (*Descriptor, error) {
	if data == nil {
		return nil, ErrNoStream
	}

	if data.Dash != nil && len(data.Dash.Video) > 0 && len(data.Dash.Audio) > 0 {
		video, substituted := selectVideo(data.Dash.Video, quality)
		// no quality negotiation for audio
		audio := data.Dash.Audio[0]

		if video.URL() == "" || audio.URL() == "" {
			return nil, fmt.Errorf("%w: dash track without url", ErrNoStream)
		}

		return &Descriptor{
			Video:            Track{URL: video.URL(), Quality: video.ID, Codec: video.Codecs},
			Audio:            Track{URL: audio.URL(), Quality: audio.ID, Codec: audio.Codecs},
			RequestedQuality: quality,
			Substituted:      substituted,
		}, nil
	}

	if len(data.Durl) > 0 && data.Durl[0].URL != "" {
		q := data.Quality
		if q == 0 {
			q = quality
		}
		track := Track{URL: data.Durl[0].URL, Quality: q}
		return &Descriptor{
			Video:            track,
			Audio:            track,
			Muxed:            true,
			RequestedQuality: quality,
			Substituted:      q != quality,
		}, nil
	}

	return nil, ErrNoStream
}

// selectVideo picks the track matching quality, or the highest one available.
func selectVideo(tracks []bilibili.DashTrack, quality int) (bilibili.DashTrack, bool) {
	best := tracks[0]
	for _, t := range tracks {
		if t.ID == quality {
			return t, false
		}
		if t.ID > best.ID {
			best = t
		}
	}
	return best, true
}
