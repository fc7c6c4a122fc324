package pipeline

import (
	"net/http"

	"github.com/sells-group/esg-extract/internal/model"
)

// Stage names the pipeline step a failure came from.
type Stage string

const (
	StageInput          Stage = "input"
	StageTextExtraction Stage = "text_extraction"
	StageAIExtraction   Stage = "ai_extraction"
)

// Suggestions shown to the end user.
const (
	SuggestDifferentDocument = "try a different document"
	SuggestManualEntry       = "try manual entry"
)

// Failure is the caller-facing error of a failed run.
type Failure struct {
	Code          model.ErrorCode `json:"code"`
	Stage         Stage           `json:"stage"`
	Message       string          `json:"message"`
	Suggestion    string          `json:"suggestion"`
	AcceptedTypes []string        `json:"accepted_types,omitempty"`

	Err error `json:"-"`
}

func (f *Failure) Error() string {
	msg := "pipeline: " + string(f.Stage) + ": " + string(f.Code) + ": " + f.Message
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// HTTPStatus maps the failure code to a response status.
func (f *Failure) HTTPStatus() int {
	switch f.Code {
	case model.CodeEmptyUpload:
		return http.StatusBadRequest
	case model.CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.CodeUnsupportedType:
		return http.StatusUnsupportedMediaType
	case model.CodeInvalidFormat, model.CodeCorruptInput, model.CodeNoSheets, model.CodeNoTextContent:
		return http.StatusUnprocessableEntity
	case model.CodeAIRejected:
		return http.StatusBadGateway
	case model.CodeAIUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func inputFailure(code model.ErrorCode, msg string) *Failure {
	return &Failure{Code: code, Stage: StageInput, Message: msg, Suggestion: SuggestDifferentDocument}
}

func textFailure(err error) *Failure {
	code := model.CodeOf(err)
	msg := "the document could not be read"
	if code == "" {
		code = model.CodeInternal
	} else {
		msg = describe(code)
	}
	return &Failure{Code: code, Stage: StageTextExtraction, Message: msg, Suggestion: SuggestDifferentDocument, Err: err}
}

func aiFailure(code model.ErrorCode, msg string, err error) *Failure {
	return &Failure{Code: code, Stage: StageAIExtraction, Message: msg, Suggestion: SuggestManualEntry, Err: err}
}

func describe(code model.ErrorCode) string {
	switch code {
	case model.CodeInvalidFormat:
		return "the file is not a valid PDF"
	case model.CodeCorruptInput:
		return "the file is damaged or in an unsupported variant of its format"
	case model.CodeNoSheets:
		return "the workbook contains no sheets"
	case model.CodeNoTextContent:
		return "no text could be extracted; scanned or image-only documents are not supported"
	default:
		return "the document could not be read"
	}
}
