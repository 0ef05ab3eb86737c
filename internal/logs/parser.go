// Package logs extracts error spans from Azure pipeline log text.
package logs

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrorKind identifies the category of an extracted error span.
type ErrorKind string

// Error kinds recognized by the parser. KindADOError covers platform-emitted
// ##[error] spans; the rest are Python runtime errors found in stack traces.
const (
	KindADOError       ErrorKind = "ADO Error"
	KindTraceback      ErrorKind = "Traceback"
	KindValueError     ErrorKind = "ValueError"
	KindIndexError     ErrorKind = "IndexError"
	KindAssertionError ErrorKind = "AssertionError"
	KindAttributeError ErrorKind = "AttributeError"
	KindImportError    ErrorKind = "ImportError"
	KindKeyError       ErrorKind = "KeyError"
	KindNameError      ErrorKind = "NameError"
	KindMemoryError    ErrorKind = "MemoryError"
	KindTypeError      ErrorKind = "TypeError"
)

// ErrorSpan is a single extracted error with its best-effort timestamp.
// A nil Timestamp means no parsable timestamp preceded the span.
type ErrorSpan struct {
	Timestamp *time.Time `json:"timestamp"`
	Message   string     `json:"message"`
	Kind      ErrorKind  `json:"error_type"`
}

var (
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d+Z`)
	adoErrorRe  = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d+Z) ##\[error\]`)
)

// tracePattern pairs an error kind with the pattern that opens its span.
// Order is fixed so repeated parses of the same text are identical.
type tracePattern struct {
	kind ErrorKind
	re   *regexp.Regexp
}

var tracePatterns = []tracePattern{
	{KindTraceback, regexp.MustCompile(`Traceback \(most recent call last\):`)},
	{KindValueError, regexp.MustCompile(`ValueError:`)},
	{KindIndexError, regexp.MustCompile(`IndexError:`)},
	{KindAssertionError, regexp.MustCompile(`AssertionError:`)},
	{KindAttributeError, regexp.MustCompile(`AttributeError:`)},
	{KindImportError, regexp.MustCompile(`ImportError:`)},
	{KindKeyError, regexp.MustCompile(`KeyError:`)},
	{KindNameError, regexp.MustCompile(`NameError:`)},
	{KindMemoryError, regexp.MustCompile(`MemoryError:`)},
	{KindTypeError, regexp.MustCompile(`TypeError:`)},
}

// fracWidth is the number of fractional-second digits kept before parsing.
// Logs sometimes carry microsecond precision; anything past this width is cut.
const fracWidth = 3

const timestampLayout = "2006-01-02T15:04:05.999"

// Parser extracts error spans from raw log text. It is stateless and
// re-parsing identical text yields an identical ordered list.
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a Parser that logs timestamp parse failures to logger.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse scans text for error spans and returns them ordered by timestamp
// ascending, with spans lacking a timestamp last.
func (p *Parser) Parse(text string) []ErrorSpan {
	// One pass over all timestamps; span boundaries and preceding-timestamp
	// attribution both binary-search this index.
	idx := buildTimestampIndex(text)

	spans := p.parseADOErrors(text, idx)
	spans = append(spans, p.parseTraceErrors(text, idx)...)

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Timestamp == nil {
			return false
		}
		if spans[j].Timestamp == nil {
			return true
		}
		return spans[i].Timestamp.Before(*spans[j].Timestamp)
	})

	p.logger.Info().Int("errors", len(spans)).Msg("log parsing completed")
	return spans
}

// timestampIndex holds the start offset of every timestamp in the text,
// in ascending order.
type timestampIndex struct {
	starts []int
	raw    []string
}

func buildTimestampIndex(text string) timestampIndex {
	matches := timestampRe.FindAllStringIndex(text, -1)
	idx := timestampIndex{
		starts: make([]int, 0, len(matches)),
		raw:    make([]string, 0, len(matches)),
	}
	for _, m := range matches {
		idx.starts = append(idx.starts, m[0])
		idx.raw = append(idx.raw, text[m[0]:m[1]])
	}
	return idx
}

// nextAfter returns the start offset of the first timestamp beginning after
// pos, or fallback if none follows.
func (idx timestampIndex) nextAfter(pos, fallback int) int {
	i := sort.SearchInts(idx.starts, pos+1)
	if i == len(idx.starts) {
		return fallback
	}
	return idx.starts[i]
}

// lastBefore returns the raw text of the nearest timestamp beginning before
// pos, or "" if none precedes it.
func (idx timestampIndex) lastBefore(pos int) string {
	i := sort.SearchInts(idx.starts, pos)
	if i == 0 {
		return ""
	}
	return idx.raw[i-1]
}

func (p *Parser) parseADOErrors(text string, idx timestampIndex) []ErrorSpan {
	var spans []ErrorSpan
	for _, m := range adoErrorRe.FindAllStringSubmatchIndex(text, -1) {
		raw := text[m[2]:m[3]]
		end := idx.nextAfter(m[1], len(text))
		span := ErrorSpan{
			Message: strings.TrimSpace(text[m[1]:end]),
			Kind:    KindADOError,
		}
		if ts, err := p.parseTimestamp(raw); err == nil {
			span.Timestamp = &ts
		}
		spans = append(spans, span)
	}
	return spans
}

func (p *Parser) parseTraceErrors(text string, idx timestampIndex) []ErrorSpan {
	var spans []ErrorSpan
	for _, tp := range tracePatterns {
		for _, m := range tp.re.FindAllStringIndex(text, -1) {
			end := idx.nextAfter(m[0], len(text))
			span := ErrorSpan{
				Message: strings.TrimSpace(text[m[0]:end]),
				Kind:    tp.kind,
			}
			if raw := idx.lastBefore(m[0]); raw != "" {
				if ts, err := p.parseTimestamp(raw); err == nil {
					span.Timestamp = &ts
				}
			}
			spans = append(spans, span)
		}
	}
	return spans
}

// parseTimestamp parses an ISO-8601 timestamp, truncating the fractional
// second to fracWidth digits first. Failures are logged; the caller keeps the
// span without a timestamp.
func (p *Parser) parseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSuffix(raw, "Z")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		if len(frac) > fracWidth {
			frac = frac[:fracWidth]
		}
		s = s[:i+1] + frac
	}

	ts, err := time.Parse(timestampLayout, s)
	if err != nil {
		p.logger.Error().Str("timestamp", raw).Err(err).Msg("failed to parse timestamp")
		return time.Time{}, err
	}
	return ts, nil
}
