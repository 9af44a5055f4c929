// Package issue defines the canonical issue record stored in and returned from the vector index.
package issue

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Issue states accepted on a record.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// DocumentSeparator joins title and body into the embedded document text.
const DocumentSeparator = "\n\n"

// idLength is the number of hex characters kept from a URL hash.
const idLength = 16

// Metadata keys owned by the index layout. Caller metadata cannot override them.
const (
	KeyTitle     = "title"
	KeyState     = "state"
	KeyLabels    = "labels"
	KeyCreatedAt = "created_at"
	KeyIssueID   = "issue_id"
	KeyDocument  = "document"
)

var reservedKeys = map[string]bool{
	KeyTitle:     true,
	KeyState:     true,
	KeyLabels:    true,
	KeyCreatedAt: true,
	KeyIssueID:   true,
	KeyDocument:  true,
}

var (
	ErrMissingID    = errors.New("issue id is required")
	ErrMissingTitle = errors.New("issue title is required")
	ErrInvalidState = errors.New("issue state must be open or closed")
)

// Issue is a single GitHub issue as stored in and returned by the index.
type Issue struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Labels    []string       `json:"labels"`
	State     string         `json:"state"`
	CreatedAt string         `json:"created_at,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

// IDFromURL derives a stable id from an issue URL, so re-ingesting the same URL
// always lands on the same index entry.
func IDFromURL(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:idLength]
}

// GitHubID returns the id used for issues fetched from the GitHub API.
func GitHubID(number int) string {
	return "github-" + strconv.Itoa(number)
}

// Validate checks required fields, normalizes an empty state to open and
// cleans the label list.
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("%w (id %s)", ErrMissingTitle, i.ID)
	}
	switch i.State {
	case "":
		i.State = StateOpen
	case StateOpen, StateClosed:
	default:
		return fmt.Errorf("%w (id %s, got %q)", ErrInvalidState, i.ID, i.State)
	}
	i.Labels = CleanLabels(i.Labels)
	return nil
}

// Document returns the text that is embedded and stored verbatim for the issue.
func (i *Issue) Document() string {
	return i.Title + DocumentSeparator + i.Body
}

// HasAnyLabel reports whether labels contains at least one member of set.
func HasAnyLabel(labels []string, set map[string]struct{}) bool {
	for _, l := range labels {
		if _, ok := set[l]; ok {
			return true
		}
	}
	return false
}

// Flatten converts the issue into the flat scalar metadata layout the index stores.
func (i *Issue) Flatten() (document string, metadata map[string]any) {
	metadata = map[string]any{
		KeyTitle:  i.Title,
		KeyState:  i.State,
		KeyLabels: EncodeLabels(i.Labels),
	}
	if i.CreatedAt != "" {
		metadata[KeyCreatedAt] = i.CreatedAt
	}
	for k, v := range ScalarMetadata(i.Metadata) {
		if reservedKeys[k] {
			continue
		}
		metadata[k] = v
	}
	return i.Document(), metadata
}

// Unflatten rebuilds an issue from an index entry written by Flatten.
func Unflatten(id, document string, metadata map[string]any) Issue {
	iss := Issue{
		ID:       id,
		Title:    stringValue(metadata[KeyTitle]),
		State:    stringValue(metadata[KeyState]),
		Labels:   DecodeLabels(stringValue(metadata[KeyLabels])),
		Metadata: make(map[string]any),
	}
	if iss.State == "" {
		iss.State = StateOpen
	}
	iss.CreatedAt = stringValue(metadata[KeyCreatedAt])
	iss.Body = bodyFromDocument(iss.Title, document)
	for k, v := range metadata {
		if reservedKeys[k] {
			continue
		}
		iss.Metadata[k] = v
	}
	return iss
}

func bodyFromDocument(title, document string) string {
	prefix := title + DocumentSeparator
	if strings.HasPrefix(document, prefix) {
		return document[len(prefix):]
	}
	if _, body, ok := strings.Cut(document, DocumentSeparator); ok {
		return body
	}
	return ""
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// ScalarMetadata keeps string, integer and float values and drops everything else.
// json.Number values are narrowed to int64 when integral, float64 otherwise.
func ScalarMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string, float64:
			out[k] = val
		case float32:
			out[k] = float64(val)
		case int:
			out[k] = int64(val)
		case int32:
			out[k] = int64(val)
		case int64:
			out[k] = val
		case json.Number:
			if n, err := val.Int64(); err == nil {
				out[k] = n
			} else if f, err := val.Float64(); err == nil {
				out[k] = f
			}
		}
	}
	return out
}
