package discovery

import (
	"fmt"

	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/bilibili"
)

const rootPath = "root"

func childPath(parent, title string) string {
	return parent + pathSeparator + title
}

// ProcessEdgeData turns one decision point into candidate branches: one per
// choice that targets a stream, one per hidden variable that targets a stream.
// Candidates sit one level below depth.
func ProcessEdgeData(edge *bilibili.EdgeInfo, parentPath string, depth int) []internal.Branch {
	if edge == nil {
		return nil
	}

	var branches []internal.Branch

	for _, e := range edge.Edges {
		for _, q := range e.Questions {
			question := q.Title
			if question == "" {
				question = "Interactive choice"
			}

			for _, c := range q.Choices {
				if c.CID <= 0 {
					continue
				}

				title := c.Option
				if title == "" {
					title = fmt.Sprintf("Choice %d", c.ID)
				}
				option := c.Option
				if option == "" {
					option = "Branch option"
				}

				branches = append(branches, internal.Branch{
					Id:          fmt.Sprintf("choice_%d_%d", c.ID, c.CID),
					CID:         int64(c.CID),
					Title:       title,
					Description: question + " - " + option,
					Path:        childPath(parentPath, title),
					Depth:       depth + 1,
					Condition:   c.Condition,
					FromEdgeAPI: true,
					QuestionId:  int64(q.ID),
					ChoiceId:    int64(c.ID),
				})
			}
		}
	}

	for _, h := range edge.HiddenVars {
		if h.IDv2 <= 0 {
			continue
		}

		name := h.Name
		if name == "" {
			name = fmt.Sprint(int64(h.IDv2))
		}
		title := "Hidden segment: " + name

		branches = append(branches, internal.Branch{
			Id:          fmt.Sprintf("hidden_%d", h.IDv2),
			CID:         int64(h.IDv2),
			Title:       title,
			Description: "Hidden content unlocked by a condition",
			Path:        childPath(parentPath, title),
			Depth:       depth + 1,
			Condition:   h.Condition,
			IsHidden:    true,
			FromEdgeAPI: true,
		})
	}

	return branches
}

func processNodeData(node *bilibili.NodeInfo, parentPath string, depth int) []internal.Branch {
	if node == nil {
		return nil
	}

	var branches []internal.Branch
	for _, e := range node.Edges {
		if e.CID <= 0 {
			continue
		}

		title := e.Title
		if title == "" {
			title = fmt.Sprintf("Node branch %d", e.CID)
		}
		desc := e.Description
		if desc == "" {
			desc = "Branch found through the node graph"
		}

		branches = append(branches, internal.Branch{
			Id:          fmt.Sprintf("node_%d", e.CID),
			CID:         int64(e.CID),
			Title:       title,
			Description: desc,
			Path:        childPath(parentPath, title),
			Depth:       depth + 1,
			FromNodeAPI: true,
		})
	}
	return branches
}

// Story nodes have no known parent, they hang directly off the root.
func processStoryData(story *bilibili.Story) []internal.Branch {
	if story == nil {
		return nil
	}

	var branches []internal.Branch
	for _, n := range story.Story.Nodes {
		if n.CID <= 0 {
			continue
		}

		title := n.Title
		if title == "" {
			title = fmt.Sprintf("Story node %d", n.CID)
		}
		desc := n.Description
		if desc == "" {
			desc = "Segment found through the story graph"
		}

		branches = append(branches, internal.Branch{
			Id:           fmt.Sprintf("story_%d", n.CID),
			CID:          int64(n.CID),
			Title:        title,
			Description:  desc,
			Path:         childPath(rootPath, title),
			Depth:        1,
			FromStoryAPI: true,
			NodeId:       int64(n.NodeID),
		})
	}
	return branches
}
