package pipeline

import (
	"unicode"
	"unicode/utf8"
)

// Lexical decomposition of values for the word index and the prefix bitmap.
//
// Text is scanned into maximal runs classified as word, number, space or
// punctuation. A number run is further split into sign, integer part,
// decimal point and fraction, each indexed separately from the whole-number
// form, so both "323" and "323.5" match a search for "323".
//
// Word codes pack up to five characters at five bits each, case-insensitive.
// Packing is left-to-right with the minimum character code being 1, so an
// n-character code always falls in [2^(5(n-1)), 2^(5n)) and codes of
// different lengths never collide. A sixth slot holds the reserved maximum
// value when the run is longer than five characters; numeric codes set a
// separate flag bit so "abc" and a digit run can never alias.

const (
	maxWordChars = 5

	codeLetterBase  = 1  // 'a' maps to 1, 'z' to 26
	codeOtherLetter = 27 // non-ascii letters fold to one code
	codeOtherChar   = 28
	codeOverflow    = 31 // sixth slot: run longer than maxWordChars

	numericCodeFlag = uint32(1) << 30
)

// fragment is one indexable unit produced by the scanner.
type fragment struct {
	text    string
	numeric bool
}

func charCode(r rune) uint32 {
	r = unicode.ToLower(r)
	switch {
	case r >= 'a' && r <= 'z':
		return uint32(r-'a') + codeLetterBase
	case unicode.IsLetter(r):
		return codeOtherLetter
	}
	return codeOtherChar
}

func digitCode(r rune) uint32 {
	if r >= '0' && r <= '9' {
		return uint32(r-'0') + 1
	}
	return codeOtherChar
}

func packCode(s string, numeric bool) uint32 {
	var code uint32
	n := 0
	for _, r := range s {
		if n == maxWordChars {
			code = code<<5 | codeOverflow
			break
		}
		if numeric {
			code = code<<5 | digitCode(r)
		} else {
			code = code<<5 | charCode(r)
		}
		n++
	}
	if numeric {
		code |= numericCodeFlag
	}
	return code
}

// WordCode returns the packed 5-bit code of one search term, choosing the
// numeric alphabet when the term starts with a digit. It is the key half of
// a word-index lookup.
func WordCode(s string) uint32 {
	r, _ := utf8.DecodeRuneInString(s)
	return packCode(s, r >= '0' && r <= '9')
}

// prefixBit returns the prefix-bitmap bit for the first n characters of a
// word run. Variable-length packing keeps codes of different prefix lengths
// disjoint, so the bit index is the code itself, below 2^25.
func prefixBit(s string, n int) uint {
	var code uint32
	for _, r := range s {
		if n == 0 {
			break
		}
		code = code<<5 | charCode(r)
		n--
	}
	return uint(code)
}

// runeLen returns the character count of s, capped at maxWordChars.
func runeLen(s string) int {
	n := 0
	for range s {
		if n == maxWordChars {
			break
		}
		n++
	}
	return n
}

// scanFragments decomposes text into its indexable fragments.
func scanFragments(text string) []fragment {
	var out []fragment
	s := text
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		switch {
		case isDigit(r) || (isSign(r) && startsNumber(s[size:])):
			var consumed int
			out, consumed = scanNumber(s, out)
			s = s[consumed:]
		case unicode.IsLetter(r):
			end := size
			for end < len(s) {
				nr, nsize := utf8.DecodeRuneInString(s[end:])
				if !unicode.IsLetter(nr) {
					break
				}
				end += nsize
			}
			out = append(out, fragment{text: s[:end]})
			s = s[end:]
		default:
			// Space and punctuation separate runs and index nothing.
			s = s[size:]
		}
	}
	return out
}

// scanNumber consumes one maximal number run [sign]digits[.digits] and
// appends the whole form plus its parts.
func scanNumber(s string, out []fragment) ([]fragment, int) {
	i := 0
	sign := ""
	if isSign(rune(s[0])) {
		sign = s[:1]
		i = 1
	}
	intStart := i
	for i < len(s) && isDigit(rune(s[i])) {
		i++
	}
	intPart := s[intStart:i]
	point, fracPart := "", ""
	if i+1 < len(s) && s[i] == '.' && isDigit(rune(s[i+1])) {
		point = s[i : i+1]
		i++
		fracStart := i
		for i < len(s) && isDigit(rune(s[i])) {
			i++
		}
		fracPart = s[fracStart:i]
	}
	out = append(out, fragment{text: s[:i], numeric: true})
	if sign != "" {
		out = append(out, fragment{text: sign, numeric: true})
	}
	if point != "" {
		// Only split forms carry information beyond the whole run.
		out = append(out, fragment{text: intPart, numeric: true})
		out = append(out, fragment{text: point, numeric: true})
		out = append(out, fragment{text: fracPart, numeric: true})
	}
	return out, i
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isSign(r rune) bool  { return r == '+' || r == '-' }

func startsNumber(s string) bool {
	return len(s) > 0 && isDigit(rune(s[0]))
}
