// Package ocr turns images into text.
//
// Engines return tesseract's TSV output parsed by ParseTSV, so every engine
// reports the same text layout and the same 0-100 mean word confidence.
package ocr

import (
	"bufio"
	"context"
	"errors"
	"strconv"
	"strings"
)

// LangEnglish is the tesseract model used for uploaded documents.
const LangEnglish = "eng"

// ErrUnavailable is returned by engines that are not configured.
var ErrUnavailable = errors.New("ocr: engine unavailable")

// Result is recognised text and the mean confidence (0-100) of its words.
type Result struct {
	Text       string
	Confidence float64
}

// Engine recognises text in an encoded image (PNG or JPEG).
type Engine interface {
	Recognize(ctx context.Context, image []byte, lang string) (*Result, error)
}

// Disabled is the Engine used when OCR is switched off.
type Disabled struct{}

func (Disabled) Recognize(context.Context, []byte, string) (*Result, error) {
	return nil, ErrUnavailable
}

// ParseTSV rebuilds text from `tesseract ... tsv` output.
//
// Columns: level page_num block_num par_num line_num word_num left top width
// height conf text. Only level-5 rows are words. Words on the same line are
// joined with a space, lines with "\n", and blocks are separated by a blank
// line. Rows with conf < 0 or empty text do not count towards confidence.
func ParseTSV(tsv string) Result {
	type lineKey struct{ page, block, par, line int }

	var (
		b         strings.Builder
		prev      *lineKey
		confSum   float64
		confCount int
	)

	sc := bufio.NewScanner(strings.NewReader(tsv))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}

		key := lineKey{atoi(cols[1]), atoi(cols[2]), atoi(cols[3]), atoi(cols[4])}
		switch {
		case prev == nil:
		case prev.page != key.page || prev.block != key.block:
			b.WriteString("\n\n")
		case *prev != key:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(word)
		prev = &key

		confSum += conf
		confCount++
	}

	res := Result{Text: b.String()}
	if confCount > 0 {
		res.Confidence = confSum / float64(confCount)
	}
	return res
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
