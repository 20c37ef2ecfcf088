package source

import (
	"unicode/utf8"

	"golang.org/x/text/transform"
)

const zeroWidthSpace = '​'

// stripZWSTransformer removes U+200B (zero-width space) from a byte stream,
// used to post-process every decoded Source response (spec §4.2 "Response
// post-processing") and every human-entered string reaching Intake (spec
// §4.1 "Zero-width-space sanitization").
type stripZWSTransformer struct{ transform.NopResetter }

func (stripZWSTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && size <= 1 {
			if !atEOF {
				return nDst, nSrc, transform.ErrShortSrc
			}
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = src[nSrc]
			nDst++
			nSrc++
			continue
		}
		if r == zeroWidthSpace {
			nSrc += size
			continue
		}
		if nDst+size > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		copy(dst[nDst:], src[nSrc:nSrc+size])
		nDst += size
		nSrc += size
	}
	return nDst, nSrc, nil
}

// StripZWS removes every U+200B in s.
func StripZWS(s string) string {
	out, _, err := transform.Bytes(stripZWSTransformer{}, []byte(s))
	if err != nil {
		return s
	}
	return string(out)
}

// SanitizeValue recursively strips U+200B from every string reachable
// inside v, which must be the result of decoding a JSON document into
// map[string]any / []any / string / other scalar types. Used both for
// Source response post-processing and for sanitizing human-entered intake
// fields before persistence.
func SanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return StripZWS(val)
	case map[string]any:
		for k, inner := range val {
			val[k] = SanitizeValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = SanitizeValue(inner)
		}
		return val
	default:
		return v
	}
}
