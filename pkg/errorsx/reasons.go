package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonRecognizerStart  ReasonCode = "recognizer_start"
	ReasonRecognizerAccept ReasonCode = "recognizer_accept"
	ReasonRecognizerClose  ReasonCode = "recognizer_close"

	ReasonDeliverySend ReasonCode = "delivery_send"
	ReasonDeliveryKill ReasonCode = "delivery_kill"

	ReasonMediaSequence ReasonCode = "media_bad_sequence"
	ReasonMediaPayload  ReasonCode = "media_bad_payload"
	ReasonMediaFormat   ReasonCode = "media_unsupported_format"

	ReasonSessionState ReasonCode = "session_invalid_state"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
)
