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

package sanitize

import (
	"strings"
	"testing"
)

func TestSanitizeSubject_StripsControlsAndTrims(t *testing.T) {
	in := "Hi\r\nthere\x01\x02  "
	got := SanitizeSubject(in)
	if strings.ContainsAny(got, "\r\n\x01\x02") {
		t.Errorf("SanitizeSubject(%q) = %q, still contains control chars", in, got)
	}
	if got != strings.TrimSpace(got) {
		t.Errorf("SanitizeSubject(%q) = %q, not trimmed", in, got)
	}
}

func TestSanitizeSubject_Truncates(t *testing.T) {
	in := strings.Repeat("a", 300)
	got := SanitizeSubject(in)
	if len(got) != maxSubjectLength {
		t.Errorf("len(SanitizeSubject(300 a's)) = %d, want %d", len(got), maxSubjectLength)
	}
}

func TestSanitizeSubject_Idempotent(t *testing.T) {
	inputs := []string{"  Hello\r\n World  ", strings.Repeat("x", 400), "plain"}
	for _, in := range inputs {
		once := SanitizeSubject(in)
		twice := SanitizeSubject(once)
		if once != twice {
			t.Errorf("SanitizeSubject not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestSanitizeFilename_StripsSeparatorsAndControls(t *testing.T) {
	in := "../../etc/passwd\x00.txt"
	got := SanitizeFilename(in)
	if strings.ContainsAny(got, "/\\") {
		t.Errorf("SanitizeFilename(%q) = %q, still contains a path separator", in, got)
	}
	if strings.Contains(got, "\x00") {
		t.Errorf("SanitizeFilename(%q) = %q, still contains a control char", in, got)
	}
}

func TestSanitizeFilename_Idempotent(t *testing.T) {
	in := "some\\weird/name\x01.pdf"
	once := SanitizeFilename(in)
	twice := SanitizeFilename(once)
	if once != twice {
		t.Errorf("SanitizeFilename not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestIsValidAddress(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"a@x.io", true},
		{"user.name+tag@sub.example.com", true},
		{"", false},
		{"no-at-sign.example.com", false},
		{"two@at@signs.com", false},
		{"trailing@dot.c", false}, // TLD must be >= 2 letters
		{"@missinglocal.com", false},
		{"missingdomain@", false},
		{strings.Repeat("a", 250) + "@x.io", false}, // over 254 bytes
	}
	for _, c := range cases {
		got := IsValidAddress(c.addr)
		if got != c.want {
			t.Errorf("IsValidAddress(%q) = %v, want %v", c.addr, got, c.want)
		}
	}
}

func TestIsValidAddress_Invariants(t *testing.T) {
	valid := []string{"a@x.io", "foo.bar@example.co.uk"}
	for _, a := range valid {
		if !IsValidAddress(a) {
			t.Fatalf("expected %q to be valid", a)
		}
		if len(a) > 254 {
			t.Errorf("%q: len > 254 but reported valid", a)
		}
		if strings.Count(a, "@") != 1 {
			t.Errorf("%q: expected exactly one '@'", a)
		}
	}
}

func TestSanitizeBody_DropsDisallowedTagsKeepsText(t *testing.T) {
	in := `<script>alert(1)</script><p>Hello <b>world</b></p>`
	got := SanitizeBody(in)
	if strings.Contains(got, "<script") {
		t.Errorf("SanitizeBody did not strip <script>: %q", got)
	}
	if !strings.Contains(got, "<p>") || !strings.Contains(got, "<b>") {
		t.Errorf("SanitizeBody dropped allowed tags: %q", got)
	}
	if !strings.Contains(got, "alert(1)") {
		t.Errorf("SanitizeBody should keep the text content of a dropped tag: %q", got)
	}
}

func TestSanitizeBody_FiltersAttributesAndSchemes(t *testing.T) {
	in := `<img src="javascript:evil()" onerror="evil()" alt="ok"><a href="https://example.com" onclick="x()">link</a>`
	got := SanitizeBody(in)
	if strings.Contains(got, "javascript:") {
		t.Errorf("SanitizeBody allowed a javascript: scheme: %q", got)
	}
	if strings.Contains(got, "onerror") || strings.Contains(got, "onclick") {
		t.Errorf("SanitizeBody allowed an event-handler attribute: %q", got)
	}
	if !strings.Contains(got, `alt="ok"`) {
		t.Errorf("SanitizeBody dropped an allowed attribute: %q", got)
	}
	if !strings.Contains(got, "https://example.com") {
		t.Errorf("SanitizeBody dropped an allowed https href: %q", got)
	}
}

func TestSanitizeBody_AllowsCidScheme(t *testing.T) {
	in := `<img src="cid:logo123">`
	got := SanitizeBody(in)
	if !strings.Contains(got, "cid:logo123") {
		t.Errorf("SanitizeBody dropped a cid: src required for inline images: %q", got)
	}
}

func TestSanitizeBody_FiltersCSSProperties(t *testing.T) {
	in := `<p style="color: red; position: fixed; font-weight: bold">text</p>`
	got := SanitizeBody(in)
	if strings.Contains(got, "position") {
		t.Errorf("SanitizeBody kept a disallowed CSS property: %q", got)
	}
	if !strings.Contains(got, "color") || !strings.Contains(got, "font-weight") {
		t.Errorf("SanitizeBody dropped allowed CSS properties: %q", got)
	}
}
