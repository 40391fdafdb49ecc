package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/zombiecoder/pkg/notes"
	"github.com/harun/zombiecoder/pkg/tools"
)

// NoteStore is the part of the notes store the notes tool needs.
type NoteStore interface {
	Save(ctx context.Context, n notes.Note) (notes.Note, error)
	List(ctx context.Context, owner string, limit int) ([]notes.Note, error)
	Search(ctx context.Context, owner, query string, limit int) ([]notes.Note, error)
	Delete(ctx context.Context, owner, id string) (bool, error)
}

// sharedOwner holds notes written outside an agent call.
const sharedOwner = "shared"

// NewNotes returns a tool that keeps long-term notes for the calling agent.
func NewNotes(store NoteStore) tools.Tool {
	return &tools.Func{
		Name: "notes",
		Desc: "Keep long-term notes across sessions. action is save, list, search or delete.",
		Params: []tools.Parameter{
			{Name: "action", Type: "string", Description: "save, list, search or delete", Required: true},
			{Name: "title", Type: "string", Description: "Note title (save)"},
			{Name: "content", Type: "string", Description: "Note body (save)"},
			{Name: "tags", Type: "string", Description: "Comma-separated tags (save)"},
			{Name: "query", Type: "string", Description: "Text to look for (search)"},
			{Name: "id", Type: "string", Description: "Note id (delete, or save to update)"},
			{Name: "max_results", Type: "integer", Description: "Maximum notes to return", Default: notes.DefaultLimit},
		},
		Caps: []tools.Capability{tools.CapabilityNotes},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			owner := sharedOwner
			if call, ok := tools.CallFromContext(ctx); ok && call.AgentID != "" {
				owner = call.AgentID
			}
			limit := notes.DefaultLimit
			if v, ok := args["max_results"].(float64); ok && v > 0 {
				limit = int(v)
			}

			switch action := strings.ToLower(stringArg(args, "action")); action {
			case "save":
				n, err := store.Save(ctx, notes.Note{
					ID:      stringArg(args, "id"),
					Owner:   owner,
					Title:   stringArg(args, "title"),
					Content: stringArg(args, "content"),
					Tags:    strings.Split(stringArg(args, "tags"), ","),
				})
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"saved": n.ID, "title": n.Title}, nil

			case "list", "search":
				var (
					found []notes.Note
					err   error
				)
				if action == "list" {
					found, err = store.List(ctx, owner, limit)
				} else {
					found, err = store.Search(ctx, owner, stringArg(args, "query"), limit)
				}
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"notes": found, "count": len(found)}, nil

			case "delete":
				id := stringArg(args, "id")
				if id == "" {
					return nil, fmt.Errorf("id is required")
				}
				removed, err := store.Delete(ctx, owner, id)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"deleted": removed, "id": id}, nil

			default:
				return nil, fmt.Errorf("unknown action %q", action)
			}
		},
	}
}
