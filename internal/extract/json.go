package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// jsonFrame tracks whether the next string inside an object is a key
type jsonFrame struct {
	object    bool
	expectKey bool
}

// jsonExtractText joins every string value of the document in document
// order. Object keys, numbers, booleans and nulls are ignored.
func jsonExtractText(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	raw, err := readAllLimit(f, maxBytes)
	if err != nil {
		return "", err
	}
	text, err := decodeTextBytes(raw)
	if err != nil {
		return "", err
	}

	return flattenJSON(strings.NewReader(text))
}

func flattenJSON(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var (
		stack []jsonFrame
		parts []string
		seen  bool
	)

	// valueDone records a completed value in the enclosing object
	valueDone := func() {
		if n := len(stack); n > 0 && stack[n-1].object {
			stack[n-1].expectKey = true
		}
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse json: %w", err)
		}
		if seen && len(stack) == 0 {
			return "", errors.New("parse json: unexpected data after top-level value")
		}
		seen = true

		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{', '[':
				valueDone()
				stack = append(stack, jsonFrame{object: v == '{', expectKey: v == '{'})
			case '}', ']':
				stack = stack[:len(stack)-1]
			}
		case string:
			if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].expectKey {
				stack[n-1].expectKey = false
				continue
			}
			parts = append(parts, v)
			valueDone()
		default:
			valueDone()
		}
	}

	if !seen {
		return "", errors.New("parse json: empty document")
	}
	if len(stack) != 0 {
		return "", fmt.Errorf("parse json: %w", io.ErrUnexpectedEOF)
	}

	return strings.Join(parts, " "), nil
}
