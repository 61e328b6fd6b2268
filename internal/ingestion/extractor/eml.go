package extractor

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// extractEML walks the MIME structure: text/plain parts are decoded directly,
// text/html parts go through the markup stripper, everything else is dropped.
// Parts are joined by newlines in message order.
func extractEML(content []byte) (string, error) {
	message, err := mail.ReadMessage(bytes.NewReader(content))
	if err != nil {
		return "", err
	}

	mediaType, params, err := mime.ParseMediaType(message.Header.Get("Content-Type"))
	if err != nil {
		// No usable content type; treat the body as plain text.
		mediaType = "text/plain"
	}

	var parts []string
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := walkMultipart(message.Body, params["boundary"], &parts); err != nil {
			return "", err
		}
	} else {
		text, err := decodePartBody(message.Body, message.Header.Get("Content-Transfer-Encoding"), mediaType)
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func walkMultipart(body io.Reader, boundary string, parts *[]string) error {
	if boundary == "" {
		return nil
	}
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		mediaType, params, typeErr := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if typeErr != nil {
			continue
		}
		if strings.HasPrefix(mediaType, "multipart/") {
			if err := walkMultipart(part, params["boundary"], parts); err != nil {
				return err
			}
			continue
		}

		text, err := decodePartBody(part, part.Header.Get("Content-Transfer-Encoding"), mediaType)
		if err != nil {
			return err
		}
		if text != "" {
			*parts = append(*parts, text)
		}
	}
}

func decodePartBody(body io.Reader, transferEncoding, mediaType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		body = base64.NewDecoder(base64.StdEncoding, body)
	case "quoted-printable":
		body = quotedprintable.NewReader(body)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	switch mediaType {
	case "text/plain":
		return decodeText(raw), nil
	case "text/html":
		return extractHTML(decodeText(raw))
	default:
		return "", nil
	}
}
