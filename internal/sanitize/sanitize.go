// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sanitize implements the validator/sanitizer contract (spec §4.5):
// subject scrubbing, an HTML tag/attribute whitelist, filename sanitizing,
// and address-grammar validation.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxSubjectLength = 255

// SanitizeSubject removes CR, LF, and other C0/C1 control characters,
// truncates to 255 characters, and trims surrounding whitespace. It is
// idempotent: SanitizeSubject(SanitizeSubject(s)) == SanitizeSubject(s).
func SanitizeSubject(s string) string {
	s = removeControls(s)
	runes := []rune(s)
	if len(runes) > maxSubjectLength {
		runes = runes[:maxSubjectLength]
	}
	return strings.TrimSpace(string(runes))
}

// removeControls strips every Unicode control character (C0 and C1 ranges),
// following dmitrymomot-foundation's core/sanitizer.RemoveControlChars shape,
// but without the \n/\r/\t exception — a subject line is not allowed any of
// them (spec §4.4: "Subject is scrubbed of CR, LF, other C0/C1 controls").
func removeControls(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// filenameUnsafe matches path separators; control characters are removed
// separately by removeControls.
var filenameUnsafe = regexp.MustCompile(`[/\\]`)

// SanitizeFilename strips path separators and control characters from a
// declared attachment file name. The result is empty when every character
// is unsafe; callers treat that empty result as a validation error.
// Idempotent: running it twice yields the same result, and the output never
// contains a path separator or a C0 control character.
func SanitizeFilename(n string) string {
	n = removeControls(n)
	n = filenameUnsafe.ReplaceAllString(n, "")
	return strings.TrimSpace(n)
}

// addressRegex enforces local@domain.tld with a TLD of at least two
// letters, following dmitrymomot-foundation/integration/email/postmark's
// isValidEmail pattern.
var addressRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const maxAddressLength = 254

// IsValidAddress enforces the address grammar from spec §4.4: non-empty,
// at most 254 bytes, local and domain parts present, matching
// local@domain.tld with a TLD of at least two letters. A valid address
// always has len <= 254 and contains exactly one '@'.
func IsValidAddress(a string) bool {
	if a == "" || len(a) > maxAddressLength {
		return false
	}
	if strings.Count(a, "@") != 1 {
		return false
	}
	return addressRegex.MatchString(a)
}

// allowedTags is the whitelist of tags SanitizeBody keeps; everything else
// is unwrapped (its text content is kept, the tag itself is dropped).
var allowedTags = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.B: true, atom.Strong: true,
	atom.I: true, atom.Em: true, atom.U: true, atom.S: true, atom.Strike: true,
	atom.Span: true, atom.Div: true, atom.A: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true,
	atom.Table: true, atom.Thead: true, atom.Tbody: true, atom.Tr: true,
	atom.Td: true, atom.Th: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Code: true,
	atom.Img: true,
}

// allowedAttrs is the whitelist of attribute names SanitizeBody keeps on
// any allowed tag.
var allowedAttrs = map[string]bool{
	"src": true, "alt": true, "title": true, "width": true, "height": true,
	"style": true, "class": true, "align": true, "href": true,
}

// allowedCSSProps is the safe-formatting CSS property allowlist applied to
// a "style" attribute's declarations.
var allowedCSSProps = map[string]bool{
	"color": true, "background-color": true, "font-weight": true,
	"font-style": true, "font-size": true, "text-align": true,
	"text-decoration": true, "margin": true, "padding": true,
	"border": true, "border-collapse": true, "width": true, "height": true,
}

// allowedSchemes is the whitelist of URL schemes permitted in "src"/"href"
// attribute values; "cid" is required for inline image references.
var allowedSchemes = map[string]bool{"http": true, "https": true, "data": true, "cid": true}

// SanitizeBody applies the HTML whitelist from spec §4.5: tags limited to
// basic inline/structural formatting, lists, tables, and img; attributes
// limited to src, alt, title, width, height, style, class, align (plus
// href for links); CSS properties limited to a safe-formatting set; URL
// schemes limited to http, https, data, cid.
func SanitizeBody(input string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(input))
	var out strings.Builder
	// openStack tracks tags we emitted so unwrapped (disallowed) tags don't
	// leave a dangling close tag, and so SanitizeBody never emits a closing
	// tag for one it dropped on the way in.
	var openStack []atom.Atom

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed fragment — either way we're done;
			// close whatever we still have open.
			for i := len(openStack) - 1; i >= 0; i-- {
				out.WriteString("</" + openStack[i].String() + ">")
			}
			return out.String()

		case html.TextToken:
			out.WriteString(html.EscapeString(string(tokenizer.Text())))

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokenizer.Token()
			a := tok.DataAtom
			if !allowedTags[a] {
				continue
			}
			out.WriteString(renderTag(tok))
			if tt == html.StartTagToken && !isVoidElement(a) {
				openStack = append(openStack, a)
			}

		case html.EndTagToken:
			tok := tokenizer.Token()
			a := tok.DataAtom
			if !allowedTags[a] {
				continue
			}
			// Only emit the close tag if it matches the most recent open
			// tag we actually emitted — keeps the output well-formed even
			// against malformed/adversarial input.
			if len(openStack) > 0 && openStack[len(openStack)-1] == a {
				openStack = openStack[:len(openStack)-1]
				out.WriteString("</" + a.String() + ">")
			}
		}
	}
}

func isVoidElement(a atom.Atom) bool {
	return a == atom.Img || a == atom.Br
}

func renderTag(tok html.Token) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(tok.DataAtom.String())
	for _, attr := range tok.Attr {
		name := strings.ToLower(attr.Key)
		if !allowedAttrs[name] {
			continue
		}
		val := attr.Val
		switch name {
		case "src", "href":
			if !schemeAllowed(val) {
				continue
			}
		case "style":
			val = filterCSS(val)
			if val == "" {
				continue
			}
		}
		b.WriteString(" ")
		b.WriteString(name)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(val))
		b.WriteString(`"`)
	}
	b.WriteString(">")
	return b.String()
}

func schemeAllowed(url string) bool {
	idx := strings.Index(url, ":")
	if idx < 0 {
		// Relative URL — treated as http(s)-relative, allowed.
		return true
	}
	scheme := strings.ToLower(url[:idx])
	return allowedSchemes[scheme]
}

func filterCSS(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		parts := strings.SplitN(decl, ":", 2)
		if len(parts) != 2 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(parts[0]))
		if allowedCSSProps[prop] {
			kept = append(kept, prop+": "+strings.TrimSpace(parts[1]))
		}
	}
	return strings.Join(kept, "; ")
}
