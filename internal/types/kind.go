package types

// ResponseKind tags the shape of a generated or cached response.
// Kind participates in cache-hit decisions: a cached text response is never
// served to a request expecting structured or media output for the same query.
type ResponseKind string

const (
	KindText       ResponseKind = "text"
	KindStructured ResponseKind = "structured"
	KindMedia      ResponseKind = "media"
)

// ParseResponseKind validates a kind string from config or a request override.
func ParseResponseKind(s string) (ResponseKind, bool) {
	switch ResponseKind(s) {
	case KindText, KindStructured, KindMedia:
		return ResponseKind(s), true
	default:
		return "", false
	}
}

// Media is the payload shape for media-kind responses.
type Media struct {
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}
