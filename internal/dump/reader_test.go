package dump

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
)

func TestReaderReadLineAndReadExactStaySynchronized(t *testing.T) {
	body := bytes.Repeat([]byte{0x00, 0x0a, 0xff}, 2000) // embeds raw newlines
	in := "Text-content-length: " + strconv.Itoa(len(body)) + "\n\n"
	var buf bytes.Buffer
	buf.WriteString(in)
	buf.Write(body)
	buf.WriteString("\n\n")

	r := NewReaderSize(&buf, 64) // force multiple buffer refills
	line, err := r.ReadLine()
	if err != nil || line != "Text-content-length: "+strconv.Itoa(len(body))+"\n" {
		t.Fatalf("ReadLine: %q, %v", line, err)
	}
	if _, err := r.ReadLine(); err != nil { // blank line
		t.Fatalf("ReadLine blank: %v", err)
	}
	got, err := r.ReadExact(len(body))
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("ReadExact returned %d bytes, want %d, mismatch", len(got), len(body))
	}
}

func TestReaderPeekDoesNotConsume(t *testing.T) {
	r := NewReader(strings.NewReader("first\nsecond\n"))
	peeked, err := r.Peek()
	if err != nil || peeked != "first\n" {
		t.Fatalf("Peek: %q, %v", peeked, err)
	}
	line, err := r.ReadLine()
	if err != nil || line != "first\n" {
		t.Fatalf("ReadLine after Peek: %q, %v", line, err)
	}
	line, err = r.ReadLine()
	if err != nil || line != "second\n" {
		t.Fatalf("second ReadLine: %q, %v", line, err)
	}
}
