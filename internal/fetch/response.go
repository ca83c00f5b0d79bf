package fetch

import (
	"bytes"
	"encoding/base64"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jmerrifield20/meshfetch/pkg/contenttype"
)

// EncodingBase64 is the only content encoding a Result carries.
const EncodingBase64 = "base64"

const defaultStatus = 200

var headerDelim = []byte("\r\n\r\n")

// Result is a fetched page. Content is always base64 so binary and text
// bodies embed in JSON the same way.
type Result struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	StatusCode  int    `json:"status_code"`
	Encoding    string `json:"encoding"`
}

// Body decodes Content.
func (r *Result) Body() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Content)
}

// ParseResponse turns a raw response payload into a Result. It never fails:
// payloads with no header block, or whose header block is not UTF-8, are
// returned whole as the body with status 200 and a content type guessed from
// path. The body after the header block may hold arbitrary bytes.
func ParseResponse(raw []byte, path string) *Result {
	status := defaultStatus
	ctype := ""
	body := raw

	if i := bytes.Index(raw, headerDelim); i >= 0 && utf8.Valid(raw[:i]) {
		status, ctype = parseHeaders(string(raw[:i]))
		body = raw[i+len(headerDelim):]
	}

	if ctype == "" {
		ctype = contenttype.ForPath(path)
	}

	return &Result{
		Content:     base64.StdEncoding.EncodeToString(body),
		ContentType: ctype,
		StatusCode:  status,
		Encoding:    EncodingBase64,
	}
}

func parseHeaders(block string) (status int, ctype string) {
	status = defaultStatus
	lines := strings.Split(block, "\r\n")

	if code, ok := parseStatusLine(lines[0]); ok {
		status = code
		lines = lines[1:]
	}

	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Type") {
			ctype = strings.TrimSpace(value)
			break
		}
	}
	return status, ctype
}

// parseStatusLine accepts "HTTP/<ver> <code> [reason]".
func parseStatusLine(line string) (int, bool) {
	if !strings.HasPrefix(line, "HTTP/") {
		return 0, false
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 999 {
		return 0, false
	}
	return code, true
}
