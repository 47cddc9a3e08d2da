package message

// Error severities.
const (
	SeverityFailure = "failure"
	SeverityWarning = "warning"
)

// Error categories.
const (
	CategoryContent       = "Content"
	CategoryCommunication = "Communication"
	CategoryUnpackaging   = "Unpackaging"
	CategoryProcessing    = "Processing"
)

// ErrorSpec describes one entry of the ebMS3 error code catalogue.
type ErrorSpec struct {
	Code             string
	ShortDescription string
	Severity         string
	Category         string
}

// ebMS3 error codes used by this MSH.
var (
	ErrValueNotRecognized       = ErrorSpec{"EBMS:0001", "ValueNotRecognized", SeverityFailure, CategoryContent}
	ErrFeatureNotSupported      = ErrorSpec{"EBMS:0002", "FeatureNotSupported", SeverityWarning, CategoryContent}
	ErrValueInconsistent        = ErrorSpec{"EBMS:0003", "ValueInconsistent", SeverityFailure, CategoryContent}
	ErrOther                    = ErrorSpec{"EBMS:0004", "Other", SeverityFailure, CategoryContent}
	ErrConnectionFailure        = ErrorSpec{"EBMS:0005", "ConnectionFailure", SeverityFailure, CategoryCommunication}
	ErrEmptyPartition           = ErrorSpec{"EBMS:0006", "EmptyMessagePartitionChannel", SeverityWarning, CategoryCommunication}
	ErrMimeInconsistency        = ErrorSpec{"EBMS:0007", "MimeInconsistency", SeverityFailure, CategoryUnpackaging}
	ErrInvalidHeader            = ErrorSpec{"EBMS:0009", "InvalidHeader", SeverityFailure, CategoryUnpackaging}
	ErrProcessingFailure        = ErrorSpec{"EBMS:0010", "ProcessingModeMismatch", SeverityFailure, CategoryProcessing}
	ErrExternalFailure          = ErrorSpec{"EBMS:0011", "ExternalPayloadError", SeverityFailure, CategoryContent}
	ErrFailedAuth               = ErrorSpec{"EBMS:0101", "FailedAuthentication", SeverityFailure, CategoryProcessing}
	ErrFailedDecryption         = ErrorSpec{"EBMS:0102", "FailedDecryption", SeverityFailure, CategoryProcessing}
	ErrPolicyNoncompliance      = ErrorSpec{"EBMS:0103", "PolicyNoncompliance", SeverityFailure, CategoryProcessing}
	ErrDysfunctionalReliability = ErrorSpec{"EBMS:0201", "DysfunctionalReliability", SeverityFailure, CategoryProcessing}
	ErrDeliveryFailure          = ErrorSpec{"EBMS:0202", "DeliveryFailure", SeverityFailure, CategoryCommunication}
	ErrMissingReceipt           = ErrorSpec{"EBMS:0301", "MissingReceipt", SeverityFailure, CategoryCommunication}
	ErrInvalidReceipt           = ErrorSpec{"EBMS:0302", "InvalidReceipt", SeverityFailure, CategoryCommunication}
	ErrDecompressionFailure     = ErrorSpec{"EBMS:0303", "DecompressionFailure", SeverityFailure, CategoryCommunication}
)

// NewError builds an Error entry from a catalogue spec.
func (spec ErrorSpec) NewError(refToMessageID, detail string) Error {
	e := Error{
		ErrorCode:           spec.Code,
		Severity:            spec.Severity,
		ShortDescription:    spec.ShortDescription,
		Category:            spec.Category,
		RefToMessageInError: refToMessageID,
	}
	if detail != "" {
		e.ErrorDetail = detail
	}
	return e
}
