package api

// Canonical operation names. The set is closed: the dispatcher rejects
// anything not listed here before it can reach the vault host.
const (
	OpNoteRead     = "note.read"
	OpNoteWrite    = "note.write"
	OpNoteCreate   = "note.create"
	OpNoteDelete   = "note.delete"
	OpNoteRename   = "note.rename"
	OpNoteMetadata = "note.metadata"
	OpNoteList     = "note.list"
	OpNoteSearch   = "note.search"

	OpFolderCreate  = "folder.create"
	OpFolderRename  = "folder.rename"
	OpFolderDelete  = "folder.delete"
	OpFolderExplore = "folder.explore"

	OpTemplateList   = "template.list"
	OpTemplateCreate = "template.create"

	OpVaultInfo = "vault.info"
)

// WriteMode selects how note.write applies its edit.
type WriteMode string

const (
	// WriteModeReplace replaces the entire note body with Content.
	WriteModeReplace WriteMode = "replace"
	// WriteModeFrontmatter merges Frontmatter keys into the note frontmatter,
	// leaving the body untouched.
	WriteModeFrontmatter WriteMode = "frontmatter"
	// WriteModeAppend appends Content to the end of the note.
	WriteModeAppend WriteMode = "append"
	// WriteModeSplice replaces the line/character range with Content.
	WriteModeSplice WriteMode = "splice"
	// WriteModeAnchor inserts Content relative to a named anchor via one of
	// the host's editor methods (e.g. insert after a heading).
	WriteModeAnchor WriteMode = "anchor"
)

// SearchMode selects what note.search matches against.
type SearchMode string

const (
	SearchModeFilename SearchMode = "filename"
	SearchModeContent  SearchMode = "content"
	SearchModeBoth     SearchMode = "both"
)

// ExploreFormat selects the folder.explore result shape.
type ExploreFormat string

const (
	ExploreFormatTree  ExploreFormat = "tree"
	ExploreFormatFlat  ExploreFormat = "flat"
	ExploreFormatPaths ExploreFormat = "paths"
	ExploreFormatSmart ExploreFormat = "smart"
)

// NoteReadArgs are the arguments for note.read.
type NoteReadArgs struct {
	// Path is the vault-relative note path.
	Path string `json:"path"`
}

// NoteWriteArgs are the arguments for note.write. Which fields are required
// depends on Mode; the dispatcher validates before anything reaches the host.
type NoteWriteArgs struct {
	// Path is the vault-relative note path.
	Path string `json:"path"`
	// Mode selects the edit semantics. Empty defaults to replace.
	Mode WriteMode `json:"mode,omitempty"`
	// Content is the body text for replace/append/splice/anchor modes.
	Content string `json:"content,omitempty"`
	// Frontmatter holds the key merges for frontmatter mode.
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	// StartLine/StartChar locate the splice start (zero-based).
	StartLine *int `json:"startLine,omitempty"`
	StartChar *int `json:"startChar,omitempty"`
	// EndLine/EndChar optionally locate the splice end. Omitted means insert.
	EndLine *int `json:"endLine,omitempty"`
	EndChar *int `json:"endChar,omitempty"`
	// Anchor names the host editor method for anchor mode
	// (e.g. "insertAfterHeading").
	Anchor string `json:"anchor,omitempty"`
	// Heading targets a heading for heading-relative anchors.
	Heading string `json:"heading,omitempty"`
}

// NoteCreateArgs are the arguments for note.create.
type NoteCreateArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// NoteDeleteArgs are the arguments for note.delete.
type NoteDeleteArgs struct {
	Path string `json:"path"`
}

// NoteRenameArgs are the arguments for note.rename and folder.rename.
type NoteRenameArgs struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

// NoteMetadataArgs are the arguments for note.metadata.
type NoteMetadataArgs struct {
	Path string `json:"path"`
}

// NoteListArgs are the arguments for note.list.
type NoteListArgs struct {
	// Path optionally restricts the listing to a folder subtree.
	Path string `json:"path,omitempty"`
}

// NoteSearchArgs are the arguments for note.search.
type NoteSearchArgs struct {
	// Query is the search string, matched fuzzily for filenames.
	Query string `json:"query"`
	// Mode selects filename/content/both. Empty defaults to both.
	Mode SearchMode `json:"mode,omitempty"`
	// MaxResults caps the result list. Zero defaults to 100.
	MaxResults int `json:"maxResults,omitempty"`
	// IncludeContext requests context snippets for content matches.
	IncludeContext bool `json:"includeContext,omitempty"`
	// Path optionally restricts the search to a folder subtree.
	Path string `json:"path,omitempty"`
}

// FolderArgs are the arguments for folder.create and folder.delete.
type FolderArgs struct {
	Path string `json:"path"`
}

// FolderExploreArgs are the arguments for folder.explore.
type FolderExploreArgs struct {
	// Path explores an explicit subtree; preferred over Query when both set.
	Path string `json:"path,omitempty"`
	// Query focuses exploration by name when no explicit path is given.
	Query string `json:"query,omitempty"`
	// Format selects the result shape. Empty defaults to smart.
	Format ExploreFormat `json:"format,omitempty"`
	// MaxDepth bounds recursion. Zero defaults to 3.
	MaxDepth int `json:"maxDepth,omitempty"`
}

// TemplateCreateArgs are the arguments for template.create.
type TemplateCreateArgs struct {
	// SearchTerm selects the template by exact or fuzzy basename match.
	SearchTerm string `json:"searchTerm"`
	// FileName is the name of the note to instantiate.
	FileName string `json:"fileName"`
	// TargetFolder overrides the host's template-to-folder mapping.
	TargetFolder string `json:"targetFolder,omitempty"`
	// Content is optional body text appended after template expansion.
	Content string `json:"content,omitempty"`
}
