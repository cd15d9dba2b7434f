package streaming

import "fmt"

// HTTPIntegrationContentType marks a stream whose body starts with an HTTP
// response prelude.
const HTTPIntegrationContentType = "application/vnd.awslambda.http-integration-response"

// preludeDelimiter separates the JSON prelude from the response body.
var preludeDelimiter = make([]byte, 8)

// HTTPResponseMetadata is the prelude of an HTTP integration response.
type HTTPResponseMetadata struct {
	StatusCode        int                 `json:"statusCode,omitempty"`
	Headers           map[string]string   `json:"headers,omitempty"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders,omitempty"`
	Cookies           []string            `json:"cookies,omitempty"`
}

// NewHTTPResponseStream turns w into an HTTP integration response: the
// content type is switched and metadata, encoded as JSON and followed by
// eight zero bytes, is sent ahead of the first written chunk. metadata may be
// an HTTPResponseMetadata or any JSON-encodable value.
func NewHTTPResponseStream(w Writer, metadata any) (Writer, error) {
	prelude, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("streaming: encode http prelude: %w", err)
	}
	if err := w.SetContentType(HTTPIntegrationContentType); err != nil {
		return nil, err
	}
	w.SetBeforeFirstWrite(func(write func([]byte) bool) {
		write(prelude)
		write(preludeDelimiter)
	})
	return w, nil
}
