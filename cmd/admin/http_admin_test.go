package main

import (
	"net/http"
	"strings"
	"testing"
)

func TestSummarizeFlush(t *testing.T) {
	line, err := summarizeFlush(http.StatusOK, []byte(`{"ok":true,"saved":12,"tick":340}`))
	if err != nil || line != "flushed 12 chunks at tick 340" {
		t.Fatalf("line=%q err=%v", line, err)
	}

	_, err = summarizeFlush(http.StatusServiceUnavailable, []byte(`{"ok":false,"saved":3,"error":"disk full"}`))
	if err == nil || !strings.Contains(err.Error(), "after 3 chunks: disk full") {
		t.Fatalf("err=%v", err)
	}

	_, err = summarizeFlush(http.StatusForbidden, []byte("forbidden\n"))
	if err == nil || !strings.Contains(err.Error(), "http 403: forbidden") {
		t.Fatalf("err=%v", err)
	}
}
