package source

// FileID uniquely identifies a source file within a FileSet.
type FileID uint32 // просто ID источника

// NoFile marks spans that do not point into any registered file
// (synthesized declarations, pipeline-level diagnostics).
const NoFile FileID = 0

// File is the registry record for one source file. loom never reads file
// contents: declarations only carry positions, so the path is all we keep.
type File struct {
	ID   FileID
	Path string
}
