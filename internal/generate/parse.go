package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/digdeeper/internal/domain"
)

// ParseDrafts decodes a JSON array of {title, description, content} objects
// as returned by the model. Markdown code fences around the array are
// tolerated, and entries with neither title nor content are dropped.
func ParseDrafts(text string) ([]domain.SegmentDraft, error) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	var raw []domain.SegmentDraft
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		var wrapped struct {
			Segments []domain.SegmentDraft `json:"segments"`
		}
		if err2 := json.Unmarshal([]byte(body), &wrapped); err2 != nil || wrapped.Segments == nil {
			return nil, fmt.Errorf("decode segment drafts: %w", err)
		}
		raw = wrapped.Segments
	}

	drafts := make([]domain.SegmentDraft, 0, len(raw))
	for _, d := range raw {
		d.Title = strings.TrimSpace(d.Title)
		d.Description = strings.TrimSpace(d.Description)
		d.Content = strings.TrimSpace(d.Content)
		if d.Title == "" && d.Content == "" {
			continue
		}
		drafts = append(drafts, d)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("decode segment drafts: %w", ErrNoSegments)
	}
	return drafts, nil
}

// CleanTitle trims the quoting and punctuation models like to wrap titles in.
func CleanTitle(s string) string {
	return strings.Trim(s, "\"'`\n\r\t .*#")
}
