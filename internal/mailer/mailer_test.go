package mailer

import (
	"strings"
	"testing"
)

func TestBuildMIME_MultipartAlternative(t *testing.T) {
	raw := string(buildMIME(Message{
		FromName: "Sam Sender",
		From:     "sam@x.test",
		To:       "jane@acme.test",
		ReplyTo:  "sam@x.test",
		Subject:  "Quick question",
		HTML:     "<p>Hello</p>",
		Text:     "Hello",
	}))

	for _, want := range []string{
		"From: Sam Sender <sam@x.test>",
		"To: jane@acme.test",
		"Reply-To: sam@x.test",
		"Subject: Quick question",
		"Content-Type: multipart/alternative",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Type: text/html; charset=utf-8",
		"<p>Hello</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("missing %q in:\n%s", want, raw)
		}
	}

	// Text part must precede the html part per multipart/alternative
	// preference order.
	if strings.Index(raw, "text/plain") > strings.Index(raw, "text/html") {
		t.Error("text part must come before html part")
	}
	if !strings.HasSuffix(raw, "--"+boundary+"--\r\n") {
		t.Errorf("missing closing boundary: %q", raw[len(raw)-40:])
	}
}

func TestBuildMIME_SubjectQEncoded(t *testing.T) {
	raw := string(buildMIME(Message{
		From:    "sam@x.test",
		To:      "jane@acme.test",
		Subject: "Grüße aus Berlin",
		HTML:    "<p>hi</p>",
	}))
	if !strings.Contains(raw, "=?utf-8?q?") {
		t.Errorf("non-ascii subject not encoded:\n%s", raw)
	}
}

func TestBuildMIME_TextFallbackFromHTML(t *testing.T) {
	raw := string(buildMIME(Message{
		From: "sam@x.test",
		To:   "jane@acme.test",
		HTML: "Line one<br/>Line two",
	}))
	if !strings.Contains(raw, "Line one\nLine two") {
		t.Errorf("br tags not converted for the text part:\n%s", raw)
	}
}
