package model

// Accepted MIME types for uploads.
const (
	MIMEPDF  = "application/pdf"
	MIMEXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEXLS  = "application/vnd.ms-excel"
)

// SourceFormat tags where an ExtractedText came from.
type SourceFormat string

const (
	SourcePDF         SourceFormat = "pdf"
	SourceSpreadsheet SourceFormat = "spreadsheet"
)

// UploadedDocument is an in-memory upload. It is never written to disk.
type UploadedDocument struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Filename string `json:"filename"`
}

// Size returns the byte length of the upload.
func (d UploadedDocument) Size() int {
	return len(d.Data)
}

// ExtractedText is the plain-text form of a document handed to the
// extraction strategies.
type ExtractedText struct {
	Text   string       `json:"text"`
	Format SourceFormat `json:"format"`
	Pages  int          `json:"pages,omitempty"` // pages read (PDF only)
	Rows   int          `json:"rows,omitempty"`  // data rows serialized (spreadsheet only)
}
