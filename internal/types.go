package internal

import (
	"time"

	"github.com/marcopiovanello/stein-dl/internal/bilibili"
)

type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusError }

// Branch is one reachable segment of an interactive video.
type Branch struct {
	Id          string `json:"id" yaml:"id"`
	CID         int64  `json:"cid" yaml:"cid"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Path        string `json:"path" yaml:"path"`
	Depth       int    `json:"depth" yaml:"depth"`
	Condition   string `json:"condition,omitempty" yaml:"condition,omitempty"`

	IsMain   bool `json:"isMain,omitempty" yaml:"is_main,omitempty"`
	IsHidden bool `json:"isHidden,omitempty" yaml:"is_hidden,omitempty"`

	// provenance
	FromEdgeAPI  bool `json:"fromEdgeAPI,omitempty" yaml:"from_edge_api,omitempty"`
	FromNodeAPI  bool `json:"fromNodeAPI,omitempty" yaml:"from_node_api,omitempty"`
	FromStoryAPI bool `json:"fromStoryAPI,omitempty" yaml:"from_story_api,omitempty"`

	QuestionId int64 `json:"questionId,omitempty" yaml:"question_id,omitempty"`
	ChoiceId   int64 `json:"choiceId,omitempty" yaml:"choice_id,omitempty"`
	NodeId     int64 `json:"nodeId,omitempty" yaml:"node_id,omitempty"`
}

// Options requested for a download.
type Options struct {
	MergeAudio bool `json:"mergeAudio"`
	Subtitles  bool `json:"subtitles"`
}

// Download is the state of one branch download job.
type Download struct {
	Id        string            `json:"id"`
	Video     bilibili.VideoRef `json:"video"`
	Branch    Branch            `json:"branch"`
	Quality   int               `json:"quality"`
	Options   Options           `json:"options"`
	Status    Status            `json:"status"`
	Progress  int               `json:"progress"`
	Details   map[string]any    `json:"details"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is published to subscribers on every registry update.
type Event struct {
	Type     EventType      `json:"type"`
	Id       string         `json:"id"`
	Progress int            `json:"progress"`
	Status   Status         `json:"status"`
	Details  map[string]any `json:"details"`
}
