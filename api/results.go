package api

// NoteStat carries the host's file metadata for a note.
type NoteStat struct {
	Size           int64 `json:"size"`
	CreatedAtUnix  int64 `json:"createdAtUnix,omitempty"`
	ModifiedAtUnix int64 `json:"modifiedAtUnix,omitempty"`
}

// NoteReadResult is the note.read result.
type NoteReadResult struct {
	Path        string         `json:"path"`
	Content     string         `json:"content"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Stat        *NoteStat      `json:"stat,omitempty"`
}

// WriteAck acknowledges note.write, note.create, note.delete, folder.create
// and folder.delete.
type WriteAck struct {
	Path    string `json:"path"`
	Saved   bool   `json:"saved"`
	Message string `json:"message,omitempty"`
}

// RenameAck acknowledges note.rename and folder.rename.
type RenameAck struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

// NoteMetadataResult is the note.metadata result.
type NoteMetadataResult struct {
	Path        string         `json:"path"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Stat        *NoteStat      `json:"stat,omitempty"`
}

// NoteListResult is the note.list result.
type NoteListResult struct {
	Notes []string `json:"notes"`
	Total int      `json:"total"`
}

// SearchMatch is one note.search hit.
type SearchMatch struct {
	Path string `json:"path"`
	// Score ranks fuzzy filename matches; zero for plain content hits.
	Score float64 `json:"score,omitempty"`
	// Line is the 1-based matching line for content hits.
	Line int `json:"line,omitempty"`
	// Context is the surrounding text when includeContext was requested.
	Context string `json:"context,omitempty"`
}

// NoteSearchResult is the note.search result.
type NoteSearchResult struct {
	Matches []SearchMatch `json:"matches"`
	Total   int           `json:"total"`
	// Truncated reports that maxResults cut the list short.
	Truncated bool `json:"truncated,omitempty"`
}

// ExploreEntry is one node of a folder.explore listing.
type ExploreEntry struct {
	Path string `json:"path"`
	// Kind is "note" or "folder".
	Kind  string `json:"kind"`
	Depth int    `json:"depth,omitempty"`
}

// FolderExploreResult is the folder.explore result. Entries carries the
// structural formats; Rendered carries the host's pre-formatted tree when the
// format asked for one.
type FolderExploreResult struct {
	Format   ExploreFormat  `json:"format"`
	Entries  []ExploreEntry `json:"entries,omitempty"`
	Rendered string         `json:"rendered,omitempty"`
}

// TemplateInfo describes one available template.
type TemplateInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// TemplateListResult is the template.list result.
type TemplateListResult struct {
	Templates []TemplateInfo `json:"templates"`
}

// TemplateCreateResult is the template.create result.
type TemplateCreateResult struct {
	// Path is the created note.
	Path string `json:"path"`
	// Template is the template note that was instantiated.
	Template string `json:"template"`
}

// VaultInfoResult is the vault.info result.
type VaultInfoResult struct {
	Name            string `json:"name"`
	NoteCount       int    `json:"noteCount"`
	FolderCount     int    `json:"folderCount"`
	AttachmentCount int    `json:"attachmentCount,omitempty"`
}
