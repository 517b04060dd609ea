package mcp

const (
	toolNoteRead       = "vault.note.read"
	toolNoteWrite      = "vault.note.write"
	toolNoteCreate     = "vault.note.create"
	toolNoteDelete     = "vault.note.delete"
	toolNoteRename     = "vault.note.rename"
	toolNoteMetadata   = "vault.note.metadata"
	toolNoteList       = "vault.note.list"
	toolSearch         = "vault.search"
	toolFolderCreate   = "vault.folder.create"
	toolFolderRename   = "vault.folder.rename"
	toolFolderDelete   = "vault.folder.delete"
	toolExplore        = "vault.explore"
	toolTemplateList   = "vault.template.list"
	toolTemplateCreate = "vault.template.create"
	toolVaultInfo      = "vault.info"
	toolVaultStatus    = "vault.status"
)

var mcpToolNames = []string{
	toolNoteRead,
	toolNoteWrite,
	toolNoteCreate,
	toolNoteDelete,
	toolNoteRename,
	toolNoteMetadata,
	toolNoteList,
	toolSearch,
	toolFolderCreate,
	toolFolderRename,
	toolFolderDelete,
	toolExplore,
	toolTemplateList,
	toolTemplateCreate,
	toolVaultInfo,
	toolVaultStatus,
}

var toolDescriptions = map[string]string{
	toolNoteRead: "Read a note's content and frontmatter. Path is vault-relative " +
		"(e.g. 'Projects/Roadmap.md').",
	toolNoteWrite: "Edit an existing note. Mode selects the edit: 'replace' swaps the " +
		"whole body, 'frontmatter' merges frontmatter keys without touching the body, " +
		"'append' adds to the end, 'splice' replaces a line/character range, 'anchor' " +
		"inserts relative to a named anchor such as a heading.",
	toolNoteCreate: "Create a new note at a vault-relative path with the given content. " +
		"Parent folders are created as needed; creating over an existing note fails.",
	toolNoteDelete: "Delete a note. The host moves it to its trash when configured to.",
	toolNoteRename: "Rename or move a note. Links pointing at the note are updated by " +
		"the host.",
	toolNoteMetadata: "Read a note's metadata only: frontmatter, tags, links and file " +
		"stats, without the body.",
	toolNoteList: "List note paths, optionally restricted to a folder subtree.",
	toolSearch: "Search notes by filename (fuzzy), content, or both. Results are " +
		"capped by maxResults; set includeContext for surrounding text on content hits.",
	toolFolderCreate: "Create a folder at a vault-relative path, including parents.",
	toolFolderRename: "Rename or move a folder; links into the subtree are updated by " +
		"the host.",
	toolFolderDelete: "Delete a folder and its contents.",
	toolExplore: "Explore vault structure. Give a path for an explicit subtree or a " +
		"query to locate folders by name; format selects tree, flat, paths or smart " +
		"output; maxDepth bounds recursion.",
	toolTemplateList: "List the templates available in the vault's template folder.",
	toolTemplateCreate: "Create a note from a template. The template is selected by " +
		"search term; targetFolder overrides the host's template-to-folder mapping.",
	toolVaultInfo: "Summarize the vault: name and note/folder/attachment counts.",
	toolVaultStatus: "Report this session's coordination status: role (owner or relay) " +
		"and the vault host channel state. Useful when vault calls fail with " +
		"connectivity errors.",
}
