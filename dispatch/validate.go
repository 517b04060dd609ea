package dispatch

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/megamem/vaultd/api"
)

const (
	defaultSearchMaxResults = 100
	maxSearchMaxResults     = 1000
	defaultExploreDepth     = 3
	maxExploreDepth         = 10
)

// validator decodes, defaults, and checks one operation's arguments, returning
// the canonical argument JSON forwarded to the vault host.
type validator func(op string, args json.RawMessage) (json.RawMessage, error)

var validators = map[string]validator{
	api.OpNoteRead:       validateNoteRead,
	api.OpNoteWrite:      validateNoteWrite,
	api.OpNoteCreate:     validateNoteCreate,
	api.OpNoteDelete:     validateNoteDelete,
	api.OpNoteRename:     validateRename,
	api.OpNoteMetadata:   validateNoteRead, // same single-path contract
	api.OpNoteList:       validateNoteList,
	api.OpNoteSearch:     validateNoteSearch,
	api.OpFolderCreate:   validateFolder,
	api.OpFolderRename:   validateRename,
	api.OpFolderDelete:   validateFolder,
	api.OpFolderExplore:  validateFolderExplore,
	api.OpTemplateList:   validateEmpty,
	api.OpTemplateCreate: validateTemplateCreate,
	api.OpVaultInfo:      validateEmpty,
}

// ValidateArgs performs the deterministic pre-dispatch validation step for op.
func ValidateArgs(op string, args json.RawMessage) (json.RawMessage, error) {
	v, ok := validators[op]
	if !ok {
		return nil, api.ValidationErrorf(op, "unknown operation")
	}
	return v(op, args)
}

// decodeStrict unmarshals args into dst, rejecting unknown fields so argument
// typos fail validation instead of being silently dropped by the host.
func decodeStrict(op string, args json.RawMessage, dst any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return api.ValidationErrorf(op, "decode args: %v", err)
	}
	return nil
}

func checkVaultPath(op, field, p string) error {
	p = strings.TrimSpace(p)
	if p == "" {
		return api.ValidationErrorf(op, "%s is required", field)
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return api.ValidationErrorf(op, "%s must be a vault-relative path", field)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return api.ValidationErrorf(op, "%s must not traverse outside the vault", field)
		}
	}
	return nil
}

func marshalCanonical(op string, v any) (json.RawMessage, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, api.ValidationErrorf(op, "encode args: %v", err)
	}
	return out, nil
}

func validateNoteRead(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.NoteReadArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	a.Path = strings.TrimSpace(a.Path)
	if err := checkVaultPath(op, "path", a.Path); err != nil {
		return nil, err
	}
	return marshalCanonical(op, a)
}

func validateNoteWrite(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.NoteWriteArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	a.Path = strings.TrimSpace(a.Path)
	if err := checkVaultPath(op, "path", a.Path); err != nil {
		return nil, err
	}
	if a.Mode == "" {
		a.Mode = api.WriteModeReplace
	}
	switch a.Mode {
	case api.WriteModeReplace:
		// Empty content is a legal replace (truncate the note).
	case api.WriteModeFrontmatter:
		if len(a.Frontmatter) == 0 {
			return nil, api.ValidationErrorf(op, "frontmatter is required for frontmatter mode")
		}
		if a.Content != "" {
			return nil, api.ValidationErrorf(op, "content is not accepted in frontmatter mode")
		}
	case api.WriteModeAppend:
		if a.Content == "" {
			return nil, api.ValidationErrorf(op, "content is required for append mode")
		}
	case api.WriteModeSplice:
		if a.StartLine == nil || a.StartChar == nil {
			return nil, api.ValidationErrorf(op, "startLine and startChar are required for splice mode")
		}
		if *a.StartLine < 0 || *a.StartChar < 0 {
			return nil, api.ValidationErrorf(op, "splice positions must be >= 0")
		}
		if (a.EndLine == nil) != (a.EndChar == nil) {
			return nil, api.ValidationErrorf(op, "endLine and endChar must be set together")
		}
		if a.EndLine != nil {
			if *a.EndLine < *a.StartLine || (*a.EndLine == *a.StartLine && *a.EndChar < *a.StartChar) {
				return nil, api.ValidationErrorf(op, "splice end must not precede start")
			}
		}
	case api.WriteModeAnchor:
		if strings.TrimSpace(a.Anchor) == "" {
			return nil, api.ValidationErrorf(op, "anchor is required for anchor mode")
		}
		if a.Content == "" {
			return nil, api.ValidationErrorf(op, "content is required for anchor mode")
		}
	default:
		return nil, api.ValidationErrorf(op, "unknown write mode %q", a.Mode)
	}
	return marshalCanonical(op, a)
}

func validateNoteCreate(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.NoteCreateArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	a.Path = strings.TrimSpace(a.Path)
	if err := checkVaultPath(op, "path", a.Path); err != nil {
		return nil, err
	}
	return marshalCanonical(op, a)
}

func validateNoteDelete(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.NoteDeleteArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	a.Path = strings.TrimSpace(a.Path)
	if err := checkVaultPath(op, "path", a.Path); err != nil {
		return nil, err
	}
	return marshalCanonical(op, a)
}

func validateRename(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.NoteRenameArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	a.Path = strings.TrimSpace(a.Path)
	a.NewPath = strings.TrimSpace(a.NewPath)
	if err := checkVaultPath(op, "path", a.Path); err != nil {
		return nil, err
	}
	if err := checkVaultPath(op, "newPath", a.NewPath); err != nil {
		return nil, err
	}
	if a.Path == a.NewPath {
		return nil, api.ValidationErrorf(op, "newPath equals path")
	}
	return marshalCanonical(op, a)
}

func validateNoteList(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.NoteListArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	a.Path = strings.TrimSpace(a.Path)
	if a.Path != "" {
		if err := checkVaultPath(op, "path", a.Path); err != nil {
			return nil, err
		}
	}
	return marshalCanonical(op, a)
}

func validateNoteSearch(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.NoteSearchArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Query) == "" {
		return nil, api.ValidationErrorf(op, "query is required")
	}
	switch a.Mode {
	case "":
		a.Mode = api.SearchModeBoth
	case api.SearchModeFilename, api.SearchModeContent, api.SearchModeBoth:
	default:
		return nil, api.ValidationErrorf(op, "unknown search mode %q", a.Mode)
	}
	if a.MaxResults <= 0 {
		a.MaxResults = defaultSearchMaxResults
	}
	if a.MaxResults > maxSearchMaxResults {
		a.MaxResults = maxSearchMaxResults
	}
	a.Path = strings.TrimSpace(a.Path)
	if a.Path != "" {
		if err := checkVaultPath(op, "path", a.Path); err != nil {
			return nil, err
		}
	}
	return marshalCanonical(op, a)
}

func validateFolder(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.FolderArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	a.Path = strings.TrimSpace(a.Path)
	if err := checkVaultPath(op, "path", a.Path); err != nil {
		return nil, err
	}
	return marshalCanonical(op, a)
}

func validateFolderExplore(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.FolderExploreArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	a.Path = strings.TrimSpace(a.Path)
	a.Query = strings.TrimSpace(a.Query)
	if a.Path != "" {
		if err := checkVaultPath(op, "path", a.Path); err != nil {
			return nil, err
		}
	}
	switch a.Format {
	case "":
		a.Format = api.ExploreFormatSmart
	case api.ExploreFormatTree, api.ExploreFormatFlat, api.ExploreFormatPaths, api.ExploreFormatSmart:
	default:
		return nil, api.ValidationErrorf(op, "unknown explore format %q", a.Format)
	}
	if a.MaxDepth <= 0 {
		a.MaxDepth = defaultExploreDepth
	}
	if a.MaxDepth > maxExploreDepth {
		a.MaxDepth = maxExploreDepth
	}
	return marshalCanonical(op, a)
}

func validateTemplateCreate(op string, args json.RawMessage) (json.RawMessage, error) {
	var a api.TemplateCreateArgs
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	a.SearchTerm = strings.TrimSpace(a.SearchTerm)
	a.FileName = strings.TrimSpace(a.FileName)
	a.TargetFolder = strings.TrimSpace(a.TargetFolder)
	if a.SearchTerm == "" {
		return nil, api.ValidationErrorf(op, "searchTerm is required")
	}
	if a.FileName == "" {
		return nil, api.ValidationErrorf(op, "fileName is required")
	}
	if strings.ContainsAny(a.FileName, "/\\") {
		return nil, api.ValidationErrorf(op, "fileName must not contain path separators")
	}
	if a.TargetFolder != "" {
		if err := checkVaultPath(op, "targetFolder", a.TargetFolder); err != nil {
			return nil, err
		}
	}
	return marshalCanonical(op, a)
}

func validateEmpty(op string, args json.RawMessage) (json.RawMessage, error) {
	var a struct{}
	if err := decodeStrict(op, args, &a); err != nil {
		return nil, err
	}
	return json.RawMessage("{}"), nil
}
