package bilibili

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// envelope wraps every api.bilibili.com JSON response.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FlexInt accepts a JSON number or a numeric string. Anything else decodes to 0,
// which callers treat as "no concrete target".
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = FlexInt(n)
		return nil
	}

	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// View is the payload of /x/web-interface/view.
type View struct {
	BVID        string `json:"bvid"`
	AID         int64  `json:"aid"`
	CID         int64  `json:"cid"`
	Title       string `json:"title"`
	Description string `json:"desc"`
	Cover       string `json:"pic"`
	Duration    int64  `json:"duration"`
	Owner       struct {
		Name string `json:"name"`
	} `json:"owner"`
	Stat struct {
		View  int64 `json:"view"`
		Like  int64 `json:"like"`
		Reply int64 `json:"reply"`
	} `json:"stat"`
	Pages       []Page `json:"pages"`
	IsSteinGate int    `json:"is_stein_gate"`
	Rights      struct {
		IsSteinGate int `json:"is_stein_gate"`
	} `json:"rights"`
}

type Page struct {
	CID  int64  `json:"cid"`
	Part string `json:"part"`
}

// Interactive reports whether the video is a choice-driven one.
func (v *View) Interactive() bool {
	return v.IsSteinGate == 1 || v.Rights.IsSteinGate == 1
}

// EdgeInfo is the payload of /x/stein/edgeinfo_v2: one decision point at a time.
type EdgeInfo struct {
	Edges      []Edge      `json:"edges"`
	HiddenVars []HiddenVar `json:"hidden_vars"`
}

type Edge struct {
	Questions []Question `json:"questions"`
}

type Question struct {
	ID      FlexInt  `json:"id"`
	Title   string   `json:"title"`
	Choices []Choice `json:"choices"`
}

// Choice is one option of a question. CID is optional: choices without a
// target stream do not lead anywhere.
type Choice struct {
	ID        FlexInt `json:"id"`
	CID       FlexInt `json:"cid"`
	Option    string  `json:"option"`
	Condition string  `json:"condition"`
}

// HiddenVar gates a branch behind an opaque condition. IDv2 is the target stream id
// when it is numeric.
type HiddenVar struct {
	IDv2      FlexInt `json:"id_v2"`
	Name      string  `json:"name"`
	Condition string  `json:"condition"`
}

// NodeInfo is the payload of /x/stein/nodeinfo, a differently shaped adjacency list.
type NodeInfo struct {
	Edges []NodeEdge `json:"edges"`
}

type NodeEdge struct {
	CID         FlexInt `json:"cid"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
}

// Story is the payload of /x/stein/story, a flat list of every known node.
type Story struct {
	Story struct {
		Nodes []StoryNode `json:"nodes"`
	} `json:"story"`
}

type StoryNode struct {
	NodeID      FlexInt `json:"node_id"`
	CID         FlexInt `json:"cid"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
}

// PlayURL is the payload of the playurl endpoints. Either Dash (adaptive) or
// Durl (legacy, single muxed file) is populated.
type PlayURL struct {
	Quality int      `json:"quality"`
	Dash    *Dash    `json:"dash"`
	Durl    []Durl   `json:"durl"`
	Formats []Format `json:"support_formats"`
}

type Dash struct {
	Video []DashTrack `json:"video"`
	Audio []DashTrack `json:"audio"`
}

type DashTrack struct {
	ID       int    `json:"id"`
	BaseURL  string `json:"baseUrl"`
	BaseURL2 string `json:"base_url"`
	Codecs   string `json:"codecs"`
}

// URL returns whichever spelling of the base url the response carried.
func (t DashTrack) URL() string {
	if t.BaseURL != "" {
		return t.BaseURL
	}
	return t.BaseURL2
}

type Durl struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type Format struct {
	Quality     int    `json:"quality"`
	Description string `json:"new_description"`
}
