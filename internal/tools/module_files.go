package tools

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/tyler-agent/tyler/pkg/models"
)

type filesWriteArgs struct {
	Filename string `json:"filename" jsonschema:"description=Name for the created file"`
	Content  string `json:"content" jsonschema:"description=Text content to write"`
}

type filesReadArgs struct {
	FileID      string `json:"file_id" jsonschema:"description=Identifier of a stored file"`
	StoragePath string `json:"storage_path,omitempty" jsonschema:"description=Optional storage path recorded for the file"`
}

func filesModule(deps ModuleDeps) []Tool {
	return []Tool{
		{
			Definition: Definition{
				Name:        "files-write",
				Description: "Create a file from text content and attach it to the conversation.",
				Parameters:  schemaFor(&filesWriteArgs{}),
			},
			Run: func(ctx context.Context, args map[string]any) (*Result, error) {
				var in filesWriteArgs
				if err := decodeArgs(args, &in); err != nil {
					return nil, err
				}
				if in.Filename == "" {
					return nil, fmt.Errorf("filename is required")
				}
				content := []byte(in.Content)
				return &Result{
					Content: fmt.Sprintf("Wrote %d bytes to %s", len(content), in.Filename),
					Files: []*models.Attachment{{
						Filename: in.Filename,
						Content:  content,
					}},
				}, nil
			},
		},
		{
			Definition: Definition{
				Name:        "files-read",
				Description: "Read the content of a previously stored file.",
				Parameters:  schemaFor(&filesReadArgs{}),
			},
			Run: func(ctx context.Context, args map[string]any) (*Result, error) {
				var in filesReadArgs
				if err := decodeArgs(args, &in); err != nil {
					return nil, err
				}
				if deps.Blobs == nil {
					return nil, fmt.Errorf("file storage is not configured")
				}
				if in.FileID == "" {
					return nil, fmt.Errorf("file_id is required")
				}
				data, err := deps.Blobs.Get(ctx, in.FileID, in.StoragePath)
				if err != nil {
					return nil, err
				}
				if !utf8.Valid(data) {
					return &Result{Content: fmt.Sprintf("File %s contains %d bytes of binary data", in.FileID, len(data))}, nil
				}
				return &Result{Content: string(data)}, nil
			},
		},
	}
}
